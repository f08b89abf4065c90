package extract

import (
	"testing"
	"time"

	"telegram-extractor/internal/store"
)

func TestGroupsCSV(t *testing.T) {
	t.Parallel()

	extractedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	groups := []store.Group{
		{
			OwnerPhone:        "+79001234567",
			GroupID:           200,
			Title:             "News, daily",
			ParticipantsCount: 1000,
			Type:              "channel",
			IsPublic:          true,
			InviteLink:        "https://t.me/newsly",
			ExtractedAt:       extractedAt,
		},
	}

	payload, err := GroupsCSV(groups)
	if err != nil {
		t.Fatalf("GroupsCSV: %v", err)
	}

	want := "group_id,group_name,participants_count,type,is_public,description,invite_link,extracted_at\n" +
		"200,\"News, daily\",1000,channel,true,,https://t.me/newsly,2025-06-01T12:00:00Z\n"
	if string(payload) != want {
		t.Errorf("GroupsCSV:\ngot  %q\nwant %q", payload, want)
	}
}

func TestContactsCSV(t *testing.T) {
	t.Parallel()

	extractedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	contacts := []store.Contact{
		{
			OwnerPhone:  "+79001234567",
			UserID:      1,
			FirstName:   "Alice",
			LastName:    "Liddell",
			Username:    "alice",
			PhoneNumber: "+15550000001",
			ExtractedAt: extractedAt,
		},
		{
			OwnerPhone:  "+79001234567",
			UserID:      2,
			FirstName:   "Bob",
			ExtractedAt: extractedAt,
		},
	}

	payload, err := ContactsCSV(contacts)
	if err != nil {
		t.Fatalf("ContactsCSV: %v", err)
	}

	want := "user_id,first_name,last_name,username,phone_number,extracted_at\n" +
		"1,Alice,Liddell,alice,+15550000001,2025-06-01T12:00:00Z\n" +
		"2,Bob,,,,2025-06-01T12:00:00Z\n"
	if string(payload) != want {
		t.Errorf("ContactsCSV:\ngot  %q\nwant %q", payload, want)
	}
}

func TestFilterGroups(t *testing.T) {
	t.Parallel()

	groups := []store.Group{
		{GroupID: 1, Title: "Alpha"},
		{GroupID: 2, Title: "Beta"},
		{GroupID: 3, Title: "Gamma"},
	}

	got := FilterGroups(groups, map[int64]struct{}{1: {}, 3: {}})
	if len(got) != 2 || got[0].GroupID != 1 || got[1].GroupID != 3 {
		t.Errorf("FilterGroups = %+v, want ids 1 and 3", got)
	}

	// Пустой фильтр пропускает всё.
	if got := FilterGroups(groups, nil); len(got) != 3 {
		t.Errorf("FilterGroups without ids = %+v, want all", got)
	}
}

func TestFilterContacts(t *testing.T) {
	t.Parallel()

	contacts := []store.Contact{
		{UserID: 7, FirstName: "Alice"},
		{UserID: 8, FirstName: "Bob"},
	}

	got := FilterContacts(contacts, map[int64]struct{}{8: {}})
	if len(got) != 1 || got[0].UserID != 8 {
		t.Errorf("FilterContacts = %+v, want only Bob", got)
	}
}

func TestCSVEmptyInput(t *testing.T) {
	t.Parallel()

	payload, err := GroupsCSV(nil)
	if err != nil {
		t.Fatalf("GroupsCSV(nil): %v", err)
	}
	// Пустая выгрузка — только заголовок.
	want := "group_id,group_name,participants_count,type,is_public,description,invite_link,extracted_at\n"
	if string(payload) != want {
		t.Errorf("GroupsCSV(nil) = %q, want header only", payload)
	}
}
