package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"telegram-extractor/internal/infra/storage"

	bolt "go.etcd.io/bbolt"
)

// Имена верхнеуровневых bucket'ов. Внутри groups/contacts — вложенный bucket
// на каждого владельца, ключ — удалённый id в big-endian (сохраняет порядок).
var (
	bucketSessions = []byte("auth_sessions")
	bucketGroups   = []byte("groups")
	bucketContacts = []byte("contacts")
)

// BoltStore реализует SessionStore и RecordStore поверх локального bbolt-файла.
// Используется для локального запуска и CLI, когда Postgres недоступен.
// Записи сериализуются в JSON; bbolt даёт атомарность на уровне транзакций.
type BoltStore struct {
	db *bolt.DB
}

var (
	_ SessionStore = (*BoltStore)(nil)
	_ RecordStore  = (*BoltStore)(nil)
)

// OpenBolt открывает (создавая при необходимости) файл хранилища и корневые bucket'ы.
func OpenBolt(path string) (*BoltStore, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("ensure bolt dir: %w", err)
	}
	db, err := bolt.Open(path, storage.DefaultFilePerm, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt storage: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketGroups, bucketContacts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close закрывает файл хранилища.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get возвращает AuthSession по номеру или ErrNotFound.
func (s *BoltStore) Get(_ context.Context, phone string) (AuthSession, error) {
	var sess AuthSession
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(phone))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &sess)
	})
	if err != nil {
		return AuthSession{}, err
	}
	return sess, nil
}

// Upsert записывает AuthSession целиком под ключом номера.
func (s *BoltStore) Upsert(_ context.Context, sess AuthSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal auth session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sess.PhoneNumber), raw)
	})
}

// ClearAuth сбрасывает сессию и код; отсутствие записи — не ошибка.
func (s *BoltStore) ClearAuth(_ context.Context, phone string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		raw := b.Get([]byte(phone))
		if raw == nil {
			return nil
		}
		var sess AuthSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("unmarshal auth session: %w", err)
		}
		sess.SessionToken = ""
		sess.ClearCode()
		updated, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal auth session: %w", err)
		}
		return b.Put([]byte(phone), updated)
	})
}

// UpsertGroups сохраняет группы во вложенный bucket владельца.
func (s *BoltStore) UpsertGroups(_ context.Context, groups []Group) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, g := range groups {
			owner, err := tx.Bucket(bucketGroups).CreateBucketIfNotExists([]byte(g.OwnerPhone))
			if err != nil {
				return err
			}
			raw, err := json.Marshal(g)
			if err != nil {
				return fmt.Errorf("marshal group: %w", err)
			}
			if err := owner.Put(idKey(g.GroupID), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertContacts сохраняет контакты во вложенный bucket владельца.
func (s *BoltStore) UpsertContacts(_ context.Context, contacts []Contact) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, c := range contacts {
			owner, err := tx.Bucket(bucketContacts).CreateBucketIfNotExists([]byte(c.OwnerPhone))
			if err != nil {
				return err
			}
			raw, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal contact: %w", err)
			}
			if err := owner.Put(idKey(c.UserID), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Groups возвращает сохранённые группы владельца.
func (s *BoltStore) Groups(_ context.Context, ownerPhone string) ([]Group, error) {
	var result []Group
	err := s.db.View(func(tx *bolt.Tx) error {
		owner := tx.Bucket(bucketGroups).Bucket([]byte(ownerPhone))
		if owner == nil {
			return nil
		}
		return owner.ForEach(func(_, raw []byte) error {
			var g Group
			if err := json.Unmarshal(raw, &g); err != nil {
				return fmt.Errorf("unmarshal group: %w", err)
			}
			result = append(result, g)
			return nil
		})
	})
	return result, err
}

// Contacts возвращает сохранённые контакты владельца.
func (s *BoltStore) Contacts(_ context.Context, ownerPhone string) ([]Contact, error) {
	var result []Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		owner := tx.Bucket(bucketContacts).Bucket([]byte(ownerPhone))
		if owner == nil {
			return nil
		}
		return owner.ForEach(func(_, raw []byte) error {
			var c Contact
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("unmarshal contact: %w", err)
			}
			result = append(result, c)
			return nil
		})
	})
	return result, err
}

// idKey кодирует id в big-endian, чтобы обход bucket'а шёл по возрастанию id.
func idKey(id int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(id))
	return key[:]
}
