package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Page size bounds for Page.
const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// MessageRow is one row of the messages table.
type MessageRow struct {
	Folder         string `db:"folder"`
	UID            uint32 `db:"uid"`
	UIDValidity    uint32 `db:"uid_validity"`
	Subject        string `db:"subject"`
	Sender         string `db:"sender"`
	SenderAddress  string `db:"sender_address"`
	Date           int64  `db:"date"`
	Snippet        string `db:"snippet"`
	Seen           bool   `db:"seen"`
	Flagged        bool   `db:"flagged"`
	HasAttachments bool   `db:"has_attachments"`
	BodyFetched    bool   `db:"body_fetched"`
}

const rowColumns = `folder, uid, uid_validity, subject, sender, sender_address, date, snippet, seen, flagged, has_attachments, body_fetched`

// MessageStore handles the durable message cache
type MessageStore struct {
	db *sqlx.DB
}

// NewMessageStore creates a new message store from a base store
func NewMessageStore(store *Store) *MessageStore {
	if store == nil {
		return nil
	}
	return &MessageStore{db: store.db}
}

func (ms *MessageStore) ready() error {
	if ms == nil || ms.db == nil {
		return fmt.Errorf("message store not initialized")
	}
	return nil
}

func checkKey(folder string, uid uint32) error {
	if strings.TrimSpace(folder) == "" {
		return fmt.Errorf("folder cannot be empty")
	}
	if uid == 0 {
		return fmt.Errorf("uid cannot be zero")
	}
	return nil
}

// Page returns up to limit rows of folder ordered by uid descending. A zero
// beforeUID returns the newest page; otherwise only rows with uid < beforeUID
// are returned.
func (ms *MessageStore) Page(ctx context.Context, folder string, beforeUID uint32, limit int) ([]MessageRow, error) {
	if err := ms.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	rows := make([]MessageRow, 0, limit)
	var err error
	if beforeUID == 0 {
		err = ms.db.SelectContext(ctx, &rows,
			`SELECT `+rowColumns+` FROM messages WHERE folder=? ORDER BY uid DESC LIMIT ?`, folder, limit)
	} else {
		err = ms.db.SelectContext(ctx, &rows,
			`SELECT `+rowColumns+` FROM messages WHERE folder=? AND uid<? ORDER BY uid DESC LIMIT ?`, folder, beforeUID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	return rows, nil
}

// UpsertHeaders inserts new rows and refreshes header fields and flags of
// existing ones. Snippets and bodies already fetched are left untouched.
func (ms *MessageStore) UpsertHeaders(ctx context.Context, rows []MessageRow) error {
	if err := ms.ready(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	tx, err := ms.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO messages(folder, uid, uid_validity, subject, sender, sender_address, date, snippet, seen, flagged, has_attachments)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(folder, uid) DO UPDATE SET
  uid_validity=excluded.uid_validity,
  subject=excluded.subject,
  sender=excluded.sender,
  sender_address=excluded.sender_address,
  date=excluded.date,
  seen=excluded.seen,
  flagged=excluded.flagged,
  has_attachments=excluded.has_attachments;
`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if err := checkKey(r.Folder, r.UID); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.Folder, r.UID, r.UIDValidity, r.Subject, r.Sender, r.SenderAddress,
			r.Date, r.Snippet, r.Seen, r.Flagged, r.HasAttachments); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert uid %d: %w", r.UID, err)
		}
	}
	return tx.Commit()
}

// HighestUID returns the largest uid stored for folder, or zero.
func (ms *MessageStore) HighestUID(ctx context.Context, folder string) (uint32, error) {
	if err := ms.ready(); err != nil {
		return 0, err
	}
	var uid int64
	err := ms.db.GetContext(ctx, &uid, `SELECT COALESCE(MAX(uid), 0) FROM messages WHERE folder=?`, folder)
	return uint32(uid), err
}

// Count returns the number of rows stored for folder.
func (ms *MessageStore) Count(ctx context.Context, folder string) (int, error) {
	if err := ms.ready(); err != nil {
		return 0, err
	}
	var n int
	err := ms.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE folder=?`, folder)
	return n, err
}

// Validity returns the UIDVALIDITY recorded for mailbox.
func (ms *MessageStore) Validity(ctx context.Context, mailbox string) (uint32, bool, error) {
	if err := ms.ready(); err != nil {
		return 0, false, err
	}
	var v int64
	err := ms.db.GetContext(ctx, &v, `SELECT uid_validity FROM mailbox_state WHERE mailbox=?`, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint32(v), true, nil
}

// SetValidity records the UIDVALIDITY of mailbox.
func (ms *MessageStore) SetValidity(ctx context.Context, mailbox string, validity uint32) error {
	if err := ms.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(mailbox) == "" {
		return fmt.Errorf("mailbox cannot be empty")
	}
	_, err := ms.db.ExecContext(ctx, `INSERT INTO mailbox_state(mailbox, uid_validity) VALUES(?,?)
ON CONFLICT(mailbox) DO UPDATE SET uid_validity=excluded.uid_validity;`, mailbox, validity)
	return err
}

// Clear removes every row of folder.
func (ms *MessageStore) Clear(ctx context.Context, folder string) error {
	if err := ms.ready(); err != nil {
		return err
	}
	_, err := ms.db.ExecContext(ctx, `DELETE FROM messages WHERE folder=?`, folder)
	return err
}

// IsSeen reports whether the stored row carries the seen flag. A missing row
// is reported as unseen.
func (ms *MessageStore) IsSeen(ctx context.Context, folder string, uid uint32) (bool, error) {
	if err := ms.ready(); err != nil {
		return false, err
	}
	var seen bool
	err := ms.db.GetContext(ctx, &seen, `SELECT seen FROM messages WHERE folder=? AND uid=?`, folder, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return seen, err
}

// SetSeen updates the seen flag of a row.
func (ms *MessageStore) SetSeen(ctx context.Context, folder string, uid uint32, seen bool) error {
	return ms.setFlag(ctx, "seen", folder, uid, seen)
}

// SetFlagged updates the flagged flag of a row.
func (ms *MessageStore) SetFlagged(ctx context.Context, folder string, uid uint32, flagged bool) error {
	return ms.setFlag(ctx, "flagged", folder, uid, flagged)
}

func (ms *MessageStore) setFlag(ctx context.Context, column, folder string, uid uint32, value bool) error {
	if err := ms.ready(); err != nil {
		return err
	}
	if err := checkKey(folder, uid); err != nil {
		return err
	}
	_, err := ms.db.ExecContext(ctx, `UPDATE messages SET `+column+`=? WHERE folder=? AND uid=?`, value, folder, uid)
	return err
}

// Delete removes one row.
func (ms *MessageStore) Delete(ctx context.Context, folder string, uid uint32) error {
	if err := ms.ready(); err != nil {
		return err
	}
	if err := checkKey(folder, uid); err != nil {
		return err
	}
	_, err := ms.db.ExecContext(ctx, `DELETE FROM messages WHERE folder=? AND uid=?`, folder, uid)
	return err
}

// Body returns the stored body of a row if it has been fetched.
func (ms *MessageStore) Body(ctx context.Context, folder string, uid uint32) (string, bool, error) {
	if err := ms.ready(); err != nil {
		return "", false, err
	}
	var body sql.NullString
	err := ms.db.GetContext(ctx, &body, `SELECT body FROM messages WHERE folder=? AND uid=? AND body_fetched=1`, folder, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return body.String, true, nil
}

// SaveBody stores the body of a row and replaces its snippet when one is given.
func (ms *MessageStore) SaveBody(ctx context.Context, folder string, uid uint32, body, snippet string) error {
	if err := ms.ready(); err != nil {
		return err
	}
	if err := checkKey(folder, uid); err != nil {
		return err
	}
	_, err := ms.db.ExecContext(ctx, `UPDATE messages
SET body=?, body_fetched=1, snippet=CASE WHEN ?<>'' THEN ? ELSE snippet END
WHERE folder=? AND uid=?`, body, snippet, snippet, folder, uid)
	return err
}

// UnfetchedUIDs returns up to limit of the newest uids whose body has not been
// fetched yet.
func (ms *MessageStore) UnfetchedUIDs(ctx context.Context, folder string, limit int) ([]uint32, error) {
	if err := ms.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	var uids []uint32
	err := ms.db.SelectContext(ctx, &uids,
		`SELECT uid FROM messages WHERE folder=? AND body_fetched=0 ORDER BY uid DESC LIMIT ?`, folder, limit)
	return uids, err
}
