package extract

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/go-faster/errors"

	"telegram-extractor/internal/store"
)

// Заголовки CSV повторяют имена полей JSON-ответов, чтобы обе выгрузки
// читались одинаково.
var (
	groupCSVHeader = []string{
		"group_id", "group_name", "participants_count", "type",
		"is_public", "description", "invite_link", "extracted_at",
	}
	contactCSVHeader = []string{
		"user_id", "first_name", "last_name", "username",
		"phone_number", "extracted_at",
	}
)

// FilterGroups оставляет группы с перечисленными id — экспорт отмеченных
// строк. Пустой фильтр пропускает всё.
func FilterGroups(groups []store.Group, ids map[int64]struct{}) []store.Group {
	if len(ids) == 0 {
		return groups
	}
	filtered := make([]store.Group, 0, len(ids))
	for _, g := range groups {
		if _, ok := ids[g.GroupID]; ok {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

// FilterContacts оставляет контакты с перечисленными id пользователей.
// Пустой фильтр пропускает всё.
func FilterContacts(contacts []store.Contact, ids map[int64]struct{}) []store.Contact {
	if len(ids) == 0 {
		return contacts
	}
	filtered := make([]store.Contact, 0, len(ids))
	for _, c := range contacts {
		if _, ok := ids[c.UserID]; ok {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// GroupsCSV кодирует группы в CSV с заголовком.
func GroupsCSV(groups []store.Group) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(groupCSVHeader); err != nil {
		return nil, errors.Wrap(err, "write csv header")
	}
	for _, g := range groups {
		record := []string{
			strconv.FormatInt(g.GroupID, 10),
			g.Title,
			strconv.Itoa(g.ParticipantsCount),
			g.Type,
			strconv.FormatBool(g.IsPublic),
			g.Description,
			g.InviteLink,
			g.ExtractedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(record); err != nil {
			return nil, errors.Wrap(err, "write csv record")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}
	return buf.Bytes(), nil
}

// ContactsCSV кодирует контакты в CSV с заголовком.
func ContactsCSV(contacts []store.Contact) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(contactCSVHeader); err != nil {
		return nil, errors.Wrap(err, "write csv header")
	}
	for _, c := range contacts {
		record := []string{
			strconv.FormatInt(c.UserID, 10),
			c.FirstName,
			c.LastName,
			c.Username,
			c.PhoneNumber,
			c.ExtractedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := w.Write(record); err != nil {
			return nil, errors.Wrap(err, "write csv record")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}
	return buf.Bytes(), nil
}
