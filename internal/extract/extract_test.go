package extract

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-extractor/internal/authflow"
)

const testOwner = "+79001234567"

var testExtractedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI отдаёт подготовленные страницы диалогов, полные карточки чатов
// и список контактов.
type fakeAPI struct {
	dialogPages []tg.MessagesDialogsClass
	dialogReqs  []*tg.MessagesGetDialogsRequest
	fullChats   map[int64]*tg.MessagesChatFull
	fullReqs    []int64
	contacts    tg.ContactsContactsClass
}

func (f *fakeAPI) MessagesGetDialogs(_ context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	f.dialogReqs = append(f.dialogReqs, req)
	if len(f.dialogPages) == 0 {
		return &tg.MessagesDialogs{}, nil
	}
	page := f.dialogPages[0]
	f.dialogPages = f.dialogPages[1:]
	return page, nil
}

func (f *fakeAPI) MessagesGetFullChat(_ context.Context, chatID int64) (*tg.MessagesChatFull, error) {
	f.fullReqs = append(f.fullReqs, chatID)
	if full, ok := f.fullChats[chatID]; ok {
		return full, nil
	}
	return nil, errors.New("no full info")
}

func (f *fakeAPI) ChannelsGetFullChannel(_ context.Context, in tg.InputChannelClass) (*tg.MessagesChatFull, error) {
	channel, ok := in.(*tg.InputChannel)
	if !ok {
		return nil, errors.Errorf("unexpected input channel: %T", in)
	}
	f.fullReqs = append(f.fullReqs, channel.ChannelID)
	if full, ok := f.fullChats[channel.ChannelID]; ok {
		return full, nil
	}
	return nil, errors.New("no full info")
}

func (f *fakeAPI) ContactsGetContacts(_ context.Context, _ int64) (tg.ContactsContactsClass, error) {
	return f.contacts, nil
}

// chatDialog собирает пару «диалог + чат» для страницы.
func chatDialog(id int64, topMessage int) (tg.DialogClass, tg.ChatClass) {
	dialog := &tg.Dialog{
		Peer:       &tg.PeerChat{ChatID: id},
		TopMessage: topMessage,
	}
	chat := &tg.Chat{
		ID:                id,
		Title:             "chat-" + strconv.FormatInt(id, 10),
		ParticipantsCount: int(id) * 10,
	}
	return dialog, chat
}

func TestFetchGroupsMapsChatsAndChannels(t *testing.T) {
	t.Parallel()

	channel := &tg.Channel{ID: 200, Title: "News", Broadcast: true, AccessHash: 777}
	channel.SetUsername("newsly")
	channel.SetParticipantsCount(1000)

	megagroup := &tg.Channel{ID: 300, Title: "Chatter", Megagroup: true, AccessHash: 778}

	deactivated := &tg.Chat{ID: 400, Title: "Dead", Deactivated: true}

	api := &fakeAPI{
		dialogPages: []tg.MessagesDialogsClass{
			&tg.MessagesDialogs{
				Dialogs: []tg.DialogClass{
					&tg.Dialog{Peer: &tg.PeerChat{ChatID: 100}, TopMessage: 1},
					&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 200}, TopMessage: 2},
					&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 300}, TopMessage: 3},
				},
				Chats: []tg.ChatClass{
					&tg.Chat{ID: 100, Title: "Team", ParticipantsCount: 5},
					channel,
					megagroup,
					deactivated,
				},
			},
		},
		fullChats: map[int64]*tg.MessagesChatFull{
			100: {FullChat: &tg.ChatFull{ID: 100, About: "team chat"}},
			200: {FullChat: &tg.ChannelFull{ID: 200, About: "daily news"}},
		},
	}

	groups, err := fetchGroups(context.Background(), api, testOwner, testExtractedAt)
	if err != nil {
		t.Fatalf("fetchGroups: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3 (deactivated chat dropped)", len(groups))
	}

	byID := make(map[int64]int)
	for i, g := range groups {
		byID[g.GroupID] = i
		if g.OwnerPhone != testOwner {
			t.Errorf("group %d: OwnerPhone = %q", g.GroupID, g.OwnerPhone)
		}
		if !g.ExtractedAt.Equal(testExtractedAt) {
			t.Errorf("group %d: ExtractedAt = %v", g.GroupID, g.ExtractedAt)
		}
	}

	team := groups[byID[100]]
	if team.Type != "group" || team.ParticipantsCount != 5 || team.IsPublic {
		t.Errorf("basic chat mapped badly: %+v", team)
	}
	if team.Description != "team chat" {
		t.Errorf("chat Description = %q, want from full info", team.Description)
	}

	news := groups[byID[200]]
	if news.Type != "channel" {
		t.Errorf("broadcast channel Type = %q, want channel", news.Type)
	}
	if !news.IsPublic || news.InviteLink != "https://t.me/newsly" {
		t.Errorf("public channel mapped badly: %+v", news)
	}
	if news.ParticipantsCount != 1000 {
		t.Errorf("channel ParticipantsCount = %d, want 1000", news.ParticipantsCount)
	}
	if news.Description != "daily news" {
		t.Errorf("channel Description = %q, want from full info", news.Description)
	}

	chatter := groups[byID[300]]
	if chatter.Type != "group" || chatter.IsPublic {
		t.Errorf("megagroup mapped badly: %+v", chatter)
	}
	// Недоступная полная карточка не валит выгрузку: описание остаётся пустым.
	if chatter.Description != "" {
		t.Errorf("Description = %q, want empty without full info", chatter.Description)
	}
}

func TestCollectGroupsPaginates(t *testing.T) {
	t.Parallel()

	const pageLimit = 2

	// Первая страница заполнена до лимита, вторая — короткая.
	firstPage := &tg.MessagesDialogs{}
	for i := 1; i <= pageLimit; i++ {
		dialog, chat := chatDialog(int64(i), i)
		firstPage.Dialogs = append(firstPage.Dialogs, dialog)
		firstPage.Chats = append(firstPage.Chats, chat)
	}
	firstPage.Messages = []tg.MessageClass{
		&tg.Message{ID: pageLimit, Date: 1700000000},
	}

	secondPage := &tg.MessagesDialogs{}
	dialog, chat := chatDialog(500, 501)
	secondPage.Dialogs = append(secondPage.Dialogs, dialog)
	secondPage.Chats = append(secondPage.Chats, chat)

	api := &fakeAPI{dialogPages: []tg.MessagesDialogsClass{firstPage, secondPage}}

	groups, _, err := collectGroups(context.Background(), api, testOwner, testExtractedAt, pageLimit, 10)
	if err != nil {
		t.Fatalf("collectGroups: %v", err)
	}
	if len(groups) != pageLimit+1 {
		t.Fatalf("got %d groups, want %d", len(groups), pageLimit+1)
	}
	if len(api.dialogReqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(api.dialogReqs))
	}

	// Вторая страница стартует с последнего диалога первой.
	second := api.dialogReqs[1]
	if second.OffsetID != pageLimit {
		t.Errorf("OffsetID = %d, want %d", second.OffsetID, pageLimit)
	}
	if second.OffsetDate != 1700000000 {
		t.Errorf("OffsetDate = %d, want 1700000000", second.OffsetDate)
	}
	peer, ok := second.OffsetPeer.(*tg.InputPeerChat)
	if !ok || peer.ChatID != pageLimit {
		t.Errorf("OffsetPeer = %#v, want InputPeerChat{%d}", second.OffsetPeer, pageLimit)
	}
}

func TestCollectGroupsStopsAtCap(t *testing.T) {
	t.Parallel()

	firstPage := &tg.MessagesDialogs{}
	for i := 1; i <= 2; i++ {
		dialog, chat := chatDialog(int64(i), i)
		firstPage.Dialogs = append(firstPage.Dialogs, dialog)
		firstPage.Chats = append(firstPage.Chats, chat)
	}
	secondPage := &tg.MessagesDialogs{}
	dialog, chat := chatDialog(3, 3)
	secondPage.Dialogs = append(secondPage.Dialogs, dialog)
	secondPage.Chats = append(secondPage.Chats, chat)

	api := &fakeAPI{dialogPages: []tg.MessagesDialogsClass{firstPage, secondPage}}

	// Потолок равен первой странице: второй запрос не уходит.
	groups, _, err := collectGroups(context.Background(), api, testOwner, testExtractedAt, 2, 2)
	if err != nil {
		t.Fatalf("collectGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if len(api.dialogReqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(api.dialogReqs))
	}
}

func TestFetchGroupsLimitsDialogWindow(t *testing.T) {
	t.Parallel()

	dialog, chat := chatDialog(1, 1)
	api := &fakeAPI{dialogPages: []tg.MessagesDialogsClass{
		&tg.MessagesDialogs{Dialogs: []tg.DialogClass{dialog}, Chats: []tg.ChatClass{chat}},
	}}

	if _, err := fetchGroups(context.Background(), api, testOwner, testExtractedAt); err != nil {
		t.Fatalf("fetchGroups: %v", err)
	}
	// Просматривается не больше maxDialogs диалогов, и первый запрос просит
	// ровно столько.
	if got := api.dialogReqs[0].Limit; got != maxDialogs {
		t.Errorf("first request Limit = %d, want %d", got, maxDialogs)
	}
}

func TestExtractRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	s := NewService(nil, nil)

	_, err := s.Extract(context.Background(), testOwner, "users")
	var inputErr *authflow.InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("want InputError, got %v", err)
	}
	if inputErr.Field != "extractType" {
		t.Errorf("Field = %q, want extractType", inputErr.Field)
	}
}

func TestFetchContacts(t *testing.T) {
	t.Parallel()

	alice := &tg.User{ID: 1, FirstName: "Alice", LastName: "Liddell"}
	alice.SetUsername("alice")
	alice.SetPhone("+15550000001")

	bob := &tg.User{ID: 2, FirstName: "Bob"}

	api := &fakeAPI{
		contacts: &tg.ContactsContacts{
			Users: []tg.UserClass{alice, bob},
		},
	}

	contacts, err := fetchContacts(context.Background(), api, testOwner, testExtractedAt)
	if err != nil {
		t.Fatalf("fetchContacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2", len(contacts))
	}

	got := contacts[0]
	if got.UserID != 1 || got.FirstName != "Alice" || got.Username != "alice" || got.PhoneNumber != "+15550000001" {
		t.Errorf("alice mapped badly: %+v", got)
	}
	if got.OwnerPhone != testOwner {
		t.Errorf("OwnerPhone = %q, want %q", got.OwnerPhone, testOwner)
	}

	// Необязательные поля без значений остаются пустыми строками.
	if contacts[1].Username != "" || contacts[1].PhoneNumber != "" {
		t.Errorf("bob mapped badly: %+v", contacts[1])
	}
}

func TestFetchContactsUnexpectedResponse(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{contacts: &tg.ContactsContactsNotModified{}}

	if _, err := fetchContacts(context.Background(), api, testOwner, testExtractedAt); err == nil {
		t.Fatal("want error for not-modified response at zero hash")
	}
}
