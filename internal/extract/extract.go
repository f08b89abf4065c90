// Пакет extract — выгрузка данных авторизованного аккаунта: диалоги
// (группы и каналы) и контакты. Сырые ответы Telegram нормализуются
// в записи хранилища и персистятся с дедупликацией.
package extract

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/infra/logger"
	"telegram-extractor/internal/store"
)

const (
	// dialogPageLimit — размер страницы MessagesGetDialogs.
	dialogPageLimit = 100
	// maxDialogs — потолок просмотренных диалогов за одну выгрузку:
	// ограничивает время обработки на больших аккаунтах.
	maxDialogs = 50
)

// Виды выгрузки, приходящие от клиента в extractType.
const (
	KindGroups   = "groups"
	KindContacts = "contacts"
)

// rawAPI — минимум RPC-клиента gotd, нужный выгрузке. *tg.Client подходит
// как есть; в тестах подменяется фейком.
type rawAPI interface {
	MessagesGetDialogs(ctx context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	ContactsGetContacts(ctx context.Context, hash int64) (tg.ContactsContactsClass, error)
	MessagesGetFullChat(ctx context.Context, chatid int64) (*tg.MessagesChatFull, error)
	ChannelsGetFullChannel(ctx context.Context, channel tg.InputChannelClass) (*tg.MessagesChatFull, error)
}

var _ rawAPI = (*tg.Client)(nil)

// ConnSource выдаёт авторизованное подключение номера. Реализуется authflow.Flow.
type ConnSource interface {
	AuthorizedConn(ctx context.Context, phone string) (authflow.Conn, error)
}

// Result — итог одной выгрузки.
type Result struct {
	Groups   []store.Group   `json:"groups"`
	Contacts []store.Contact `json:"contacts"`
}

// Service выгружает и персистит данные аккаунтов.
type Service struct {
	conns   ConnSource
	records store.RecordStore
	now     func() time.Time
}

// NewService создаёт сервис выгрузки.
func NewService(conns ConnSource, records store.RecordStore) *Service {
	return &Service{
		conns:   conns,
		records: records,
		now:     time.Now,
	}
}

// Extract выгружает записи запрошенного вида (kind) и сохраняет их
// в хранилище. Требует авторизованного номера; ошибки авторизации проходят
// насквозь в доменном виде (их ставит authflow).
func (s *Service) Extract(ctx context.Context, phone, kind string) (Result, error) {
	if kind != KindGroups && kind != KindContacts {
		return Result{}, &authflow.InputError{Field: "extractType", Reason: "must be groups or contacts"}
	}

	conn, err := s.conns.AuthorizedConn(ctx, phone)
	if err != nil {
		return Result{}, err
	}
	api := conn.API()
	extractedAt := s.now()

	var result Result
	switch kind {
	case KindGroups:
		groups, err := fetchGroups(ctx, api, phone, extractedAt)
		if err != nil {
			return Result{}, authflow.Classify(err)
		}
		if err := s.records.UpsertGroups(ctx, groups); err != nil {
			return Result{}, errors.Wrap(err, "persist groups")
		}
		if groups == nil {
			groups = []store.Group{}
		}
		result.Groups = groups

	case KindContacts:
		contacts, err := fetchContacts(ctx, api, phone, extractedAt)
		if err != nil {
			return Result{}, authflow.Classify(err)
		}
		if err := s.records.UpsertContacts(ctx, contacts); err != nil {
			return Result{}, errors.Wrap(err, "persist contacts")
		}
		if contacts == nil {
			contacts = []store.Contact{}
		}
		result.Contacts = contacts
	}

	logger.Infof("extract: %s — %d %s", phone, len(result.Groups)+len(result.Contacts), kind)
	return result, nil
}

// Stored возвращает ранее выгруженные записи номера без похода в Telegram.
func (s *Service) Stored(ctx context.Context, phone string) (Result, error) {
	groups, err := s.records.Groups(ctx, phone)
	if err != nil {
		return Result{}, errors.Wrap(err, "load groups")
	}
	contacts, err := s.records.Contacts(ctx, phone)
	if err != nil {
		return Result{}, errors.Wrap(err, "load contacts")
	}
	return Result{Groups: groups, Contacts: contacts}, nil
}

// fetchGroups выгружает диалоги аккаунта и оставляет из них группы и каналы.
// Листинг диалогов не несёт описаний, поэтому они дозабираются отдельными
// full-info запросами.
func fetchGroups(ctx context.Context, api rawAPI, ownerPhone string, extractedAt time.Time) ([]store.Group, error) {
	groups, channelHashes, err := collectGroups(ctx, api, ownerPhone, extractedAt, dialogPageLimit, maxDialogs)
	if err != nil {
		return nil, err
	}
	fillDescriptions(ctx, api, groups, channelHashes)
	return groups, nil
}

// collectGroups постранично обходит MessagesGetDialogs, просматривая не более
// maxTotal диалогов. Пагинация по (offset_date, offset_id, offset_peer), как
// того требует протокол. Возвращает также access_hash каналов — они нужны
// full-info запросам.
func collectGroups(ctx context.Context, api rawAPI, ownerPhone string, extractedAt time.Time,
	pageLimit, maxTotal int) ([]store.Group, map[int64]int64, error) {
	var result []store.Group
	seen := make(map[int64]struct{})

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for fetched := 0; fetched < maxTotal; {
		limit := pageLimit
		if remaining := maxTotal - fetched; remaining < limit {
			limit = remaining
		}

		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      limit,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "messages.getDialogs")
		}

		batch, err := normalizeDialogs(resp)
		if err != nil {
			return nil, nil, err
		}
		if batch == nil || len(batch.Dialogs) == 0 {
			break
		}
		fetched += len(batch.Dialogs)

		for _, entity := range batch.Chats {
			group, ok := normalizeChat(entity, ownerPhone, extractedAt)
			if !ok {
				continue
			}
			if _, dup := seen[group.GroupID]; dup {
				continue
			}
			seen[group.GroupID] = struct{}{}
			result = append(result, group)
		}
		collectHashes(batch, userHashes, channelHashes)

		// Следующая страница начинается с последнего диалога текущей.
		prevOffsetDate, prevOffsetID := offsetDate, offsetID
		if last, ok := batch.Dialogs[len(batch.Dialogs)-1].(*tg.Dialog); ok {
			offsetID = last.TopMessage
			offsetDate = messageDate(batch.Messages, last.TopMessage)
			offsetPeer = peerToInput(last.Peer, userHashes, channelHashes)
		}
		if offsetDate == 0 {
			offsetDate = prevOffsetDate
		}
		if offsetID == 0 {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < limit {
			break
		}
	}

	return result, channelHashes, nil
}

// fillDescriptions дозаполняет описания групп через полные карточки чатов.
// Сбой по отдельному чату не валит выгрузку: его описание остаётся пустым.
func fillDescriptions(ctx context.Context, api rawAPI, groups []store.Group, channelHashes map[int64]int64) {
	for i := range groups {
		var (
			full *tg.MessagesChatFull
			err  error
		)
		if hash, ok := channelHashes[groups[i].GroupID]; ok {
			full, err = api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
				ChannelID:  groups[i].GroupID,
				AccessHash: hash,
			})
		} else {
			full, err = api.MessagesGetFullChat(ctx, groups[i].GroupID)
		}
		if err != nil {
			logger.Debugf("extract: no full info for chat %d: %v", groups[i].GroupID, err)
			continue
		}
		groups[i].Description = chatAbout(full)
	}
}

// chatAbout достаёт описание из полной карточки чата или канала.
func chatAbout(full *tg.MessagesChatFull) string {
	switch fc := full.FullChat.(type) {
	case *tg.ChatFull:
		return fc.About
	case *tg.ChannelFull:
		return fc.About
	default:
		return ""
	}
}

// fetchContacts выгружает адресную книгу аккаунта. Хэш 0 — «отдай всё».
func fetchContacts(ctx context.Context, api rawAPI, ownerPhone string, extractedAt time.Time) ([]store.Contact, error) {
	resp, err := api.ContactsGetContacts(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "contacts.getContacts")
	}

	contacts, ok := resp.(*tg.ContactsContacts)
	if !ok {
		// ContactsContactsNotModified возможен только при ненулевом хэше.
		return nil, errors.Errorf("unexpected contacts response: %T", resp)
	}

	var result []store.Contact
	for _, entity := range contacts.Users {
		user, ok := entity.(*tg.User)
		if !ok {
			continue
		}
		username, _ := user.GetUsername()
		phone, _ := user.GetPhone()
		result = append(result, store.Contact{
			OwnerPhone:  ownerPhone,
			UserID:      user.ID,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			Username:    username,
			PhoneNumber: phone,
			ExtractedAt: extractedAt,
		})
	}
	return result, nil
}

// normalizeDialogs приводит ответ к общему виду. NotModified трактуется как
// пустая страница (приходит только при ненулевом хэше).
func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, nil
	default:
		return nil, errors.Errorf("unexpected dialogs response: %T", resp)
	}
}

// normalizeChat превращает сущность диалога в запись группы. Лички и
// деактивированные чаты отбрасываются.
func normalizeChat(entity tg.ChatClass, ownerPhone string, extractedAt time.Time) (store.Group, bool) {
	switch chat := entity.(type) {
	case *tg.Chat:
		if chat.Deactivated {
			return store.Group{}, false
		}
		return store.Group{
			OwnerPhone:        ownerPhone,
			GroupID:           chat.ID,
			Title:             chat.Title,
			ParticipantsCount: chat.ParticipantsCount,
			Type:              "group",
			ExtractedAt:       extractedAt,
		}, true
	case *tg.Channel:
		username, hasUsername := chat.GetUsername()
		group := store.Group{
			OwnerPhone:  ownerPhone,
			GroupID:     chat.ID,
			Title:       chat.Title,
			Type:        "group",
			IsPublic:    hasUsername,
			ExtractedAt: extractedAt,
		}
		if chat.Broadcast {
			group.Type = "channel"
		}
		if count, ok := chat.GetParticipantsCount(); ok {
			group.ParticipantsCount = count
		}
		if hasUsername {
			group.InviteLink = "https://t.me/" + username
		}
		return group, true
	default:
		return store.Group{}, false
	}
}

// collectHashes копит access_hash пользователей и каналов: без них не собрать
// offset_peer для следующей страницы.
func collectHashes(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

// messageDate находит дату верхнего сообщения диалога.
func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		if item, ok := msg.(*tg.Message); ok && item.ID == id {
			return item.Date
		}
	}
	return 0
}

// peerToInput собирает InputPeer для пагинации из пира диалога и накопленных
// access_hash.
func peerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if hash, ok := userHashes[p.UserID]; ok {
			return &tg.InputPeerUser{UserID: p.UserID, AccessHash: hash}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		if hash, ok := channelHashes[p.ChannelID]; ok {
			return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: hash}
		}
	}
	return &tg.InputPeerEmpty{}
}
