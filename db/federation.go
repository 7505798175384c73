package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

const (
	sqlCreateRemoteAccountsTable = `CREATE TABLE IF NOT EXISTS remote_accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) NOT NULL,
                        domain varchar(255) NOT NULL,
                        actor_uri varchar(500) UNIQUE NOT NULL,
                        display_name varchar(255),
                        summary text,
                        inbox_uri varchar(500),
                        outbox_uri varchar(500),
                        shared_inbox_uri varchar(500) default '',
                        public_key_pem text,
                        avatar_url varchar(500),
                        last_fetched_at timestamp default current_timestamp
                        )`
	sqlInsertRemoteAccount      = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, avatar_url, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteAccountByURI = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts WHERE actor_uri = ?`
	sqlSelectRemoteAccountById  = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, outbox_uri, shared_inbox_uri, public_key_pem, avatar_url, last_fetched_at FROM remote_accounts WHERE id = ?`
	sqlUpdateRemoteAccount      = `UPDATE remote_accounts SET display_name = ?, summary = ?, inbox_uri = ?, outbox_uri = ?, shared_inbox_uri = ?, public_key_pem = ?, avatar_url = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlDeleteRemoteAccount      = `DELETE FROM remote_accounts WHERE id = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.SharedInboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.OutboxURI,
			acc.SharedInboxURI,
			acc.PublicKeyPem,
			acc.AvatarURL,
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

func (db *DB) ReadRemoteAccountByURI(uri string) (error, *domain.RemoteAccount) {
	return scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountByURI, uri))
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccountById, id.String()))
}

func (db *DB) DeleteRemoteAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteAccount, id.String())
		return err
	})
}

func scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.OutboxURI,
		&acc.SharedInboxURI,
		&acc.PublicKeyPem,
		&acc.AvatarURL,
		&acc.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Follow queries
const (
	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows(
                        id uuid NOT NULL PRIMARY KEY,
                        account_id uuid NOT NULL,
                        target_account_id uuid NOT NULL,
                        uri varchar(500),
                        accepted int default 0,
                        created_at timestamp default current_timestamp,
                        UNIQUE(account_id, target_account_id)
                        )`
	sqlInsertFollow                = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowByURI           = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE uri = ?`
	sqlSelectFollowByAccounts      = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowersByTargetId   = `SELECT id, account_id, target_account_id, uri, accepted, created_at FROM follows WHERE target_account_id = ? AND accepted = 1`
	sqlDeleteFollowByURI           = `DELETE FROM follows WHERE uri = ?`
	sqlDeleteFollowsByAccountId    = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	sqlUpdateFollowAcceptedByURI   = `UPDATE follows SET accepted = 1 WHERE uri = ?`
)

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			follow.URI,
			follow.Accepted,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByAccountIds(accountId, targetAccountId uuid.UUID) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByAccounts, accountId.String(), targetAccountId.String()))
}

// ReadFollowersByTargetAccountId returns accepted follows pointing at the
// given local account, i.e. its followers.
func (db *DB) ReadFollowersByTargetAccountId(targetAccountId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(sqlSelectFollowersByTargetId, targetAccountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var followers []domain.Follow
	for rows.Next() {
		var follow domain.Follow
		var idStr, accountIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.CreatedAt); err != nil {
			return err, &followers
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
		followers = append(followers, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowsByRemoteAccountId(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAccountId, id.String(), id.String())
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateFollowAcceptedByURI, uri)
		return err
	})
}

func scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	err := row.Scan(
		&idStr,
		&accountIdStr,
		&targetIdStr,
		&follow.URI,
		&follow.Accepted,
		&follow.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	return nil, &follow
}

// Activity queries
const (
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities(
                        id uuid NOT NULL PRIMARY KEY,
                        activity_uri varchar(500) UNIQUE NOT NULL,
                        activity_type varchar(50) NOT NULL,
                        actor_uri varchar(500),
                        object_uri varchar(500),
                        raw_json text,
                        processed int default 0,
                        local int default 0,
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertActivity            = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity            = `UPDATE activities SET processed = ?, object_uri = ?, raw_json = ? WHERE id = ?`
	sqlSelectActivityByURI       = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE object_uri = ?`
	sqlDeleteActivity            = `DELETE FROM activities WHERE id = ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity,
			activity.Processed,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Id.String(),
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, uri))
}

func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivity, id.String())
		return err
	})
}

func scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

// Inbound queue queries
const (
	sqlCreateInboundQueueTable = `CREATE TABLE IF NOT EXISTS inbound_queue(
                        id uuid NOT NULL PRIMARY KEY,
                        account varchar(100) NOT NULL,
                        path varchar(500) NOT NULL,
                        body text NOT NULL,
                        headers_json text NOT NULL,
                        retries int default 0,
                        arrived_at timestamp default current_timestamp
                        )`
	sqlInsertInbound        = `INSERT INTO inbound_queue(id, account, path, body, headers_json, retries, arrived_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectInboundById    = `SELECT id, account, path, body, headers_json, retries, arrived_at FROM inbound_queue WHERE id = ?`
	sqlSelectInboundInOrder = `SELECT id FROM inbound_queue ORDER BY arrived_at ASC, id ASC`
	sqlUpdateInboundRetries = `UPDATE inbound_queue SET retries = ? WHERE id = ?`
	sqlDeleteInbound        = `DELETE FROM inbound_queue WHERE id = ?`
	sqlDrainInbound         = `DELETE FROM inbound_queue`
	sqlCountInbound         = `SELECT count(*) FROM inbound_queue`
)

func (db *DB) EnqueueInbound(item *domain.QueuedActivity) error {
	headersJSON, err := json.Marshal(item.Headers)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInbound,
			item.Id.String(),
			item.Account,
			item.Path,
			item.Body,
			string(headersJSON),
			item.Retries,
			item.ArrivedAt,
		)
		return err
	})
}

func (db *DB) ReadInbound(id uuid.UUID) (error, *domain.QueuedActivity) {
	row := db.db.QueryRow(sqlSelectInboundById, id.String())
	var item domain.QueuedActivity
	var idStr, headersJSON string
	err := row.Scan(&idStr, &item.Account, &item.Path, &item.Body, &headersJSON, &item.Retries, &item.ArrivedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	if err := json.Unmarshal([]byte(headersJSON), &item.Headers); err != nil {
		return err, nil
	}
	item.Id, _ = uuid.Parse(idStr)
	return nil, &item
}

// ReadInboundIdsInOrder returns the ids of all pending inbound items in
// arrival order, used to rebuild the in-memory index after a restart.
func (db *DB) ReadInboundIdsInOrder() (error, []uuid.UUID) {
	rows, err := db.db.Query(sqlSelectInboundInOrder)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return err, ids
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return rows.Err(), ids
}

func (db *DB) UpdateInboundRetries(id uuid.UUID, retries int) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateInboundRetries, retries, id.String())
		return err
	})
}

func (db *DB) DeleteInbound(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteInbound, id.String())
		return err
	})
}

func (db *DB) DrainInbound() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDrainInbound)
		return err
	})
}

func (db *DB) CountInbound() (int, error) {
	var count int
	err := db.db.QueryRow(sqlCountInbound).Scan(&count)
	return count, err
}

// Moderation queries
const (
	sqlCreateBlockedDomainsTable = `CREATE TABLE IF NOT EXISTS blocked_domains(
                        id uuid NOT NULL PRIMARY KEY,
                        domain varchar(255) UNIQUE NOT NULL,
                        reason text default '',
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertBlockedDomain  = `INSERT INTO blocked_domains(id, domain, reason, created_at) VALUES (?, ?, ?, ?)`
	sqlDeleteBlockedDomain  = `DELETE FROM blocked_domains WHERE domain = ?`
	sqlSelectBlockedDomains = `SELECT id, domain, reason, created_at FROM blocked_domains ORDER BY domain ASC`

	sqlCreateFilteredPhrasesTable = `CREATE TABLE IF NOT EXISTS filtered_phrases(
                        id uuid NOT NULL PRIMARY KEY,
                        phrase varchar(500) UNIQUE NOT NULL
                        )`
	sqlInsertFilteredPhrase  = `INSERT INTO filtered_phrases(id, phrase) VALUES (?, ?)`
	sqlDeleteFilteredPhrase  = `DELETE FROM filtered_phrases WHERE phrase = ?`
	sqlSelectFilteredPhrases = `SELECT id, phrase FROM filtered_phrases ORDER BY phrase ASC`
)

func (db *DB) CreateBlockedDomain(blockedDomain string, reason string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertBlockedDomain, uuid.New().String(), blockedDomain, reason, time.Now())
		return err
	})
}

func (db *DB) DeleteBlockedDomain(blockedDomain string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteBlockedDomain, blockedDomain)
		return err
	})
}

func (db *DB) ReadBlockedDomains() (error, *[]domain.BlockedDomain) {
	rows, err := db.db.Query(sqlSelectBlockedDomains)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var blocked []domain.BlockedDomain
	for rows.Next() {
		var entry domain.BlockedDomain
		var idStr string
		if err := rows.Scan(&idStr, &entry.Domain, &entry.Reason, &entry.CreatedAt); err != nil {
			return err, &blocked
		}
		entry.Id, _ = uuid.Parse(idStr)
		blocked = append(blocked, entry)
	}
	if err = rows.Err(); err != nil {
		return err, &blocked
	}
	return nil, &blocked
}

func (db *DB) CreateFilteredPhrase(phrase string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFilteredPhrase, uuid.New().String(), phrase)
		return err
	})
}

func (db *DB) DeleteFilteredPhrase(phrase string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFilteredPhrase, phrase)
		return err
	})
}

func (db *DB) ReadFilteredPhrases() (error, *[]domain.FilteredPhrase) {
	rows, err := db.db.Query(sqlSelectFilteredPhrases)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var phrases []domain.FilteredPhrase
	for rows.Next() {
		var entry domain.FilteredPhrase
		var idStr string
		if err := rows.Scan(&idStr, &entry.Phrase); err != nil {
			return err, &phrases
		}
		entry.Id, _ = uuid.Parse(idStr)
		phrases = append(phrases, entry)
	}
	if err = rows.Err(); err != nil {
		return err, &phrases
	}
	return nil, &phrases
}

// Send log queries
const (
	sqlCreateSendLogTable = `CREATE TABLE IF NOT EXISTS send_log(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) NOT NULL,
                        inbox_uri varchar(500) NOT NULL,
                        status_code int default 0,
                        error text default '',
                        created_at timestamp default current_timestamp
                        )`
	sqlInsertSendLog       = `INSERT INTO send_log(id, username, inbox_uri, status_code, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectRecentSendLog = `SELECT id, username, inbox_uri, status_code, error, created_at FROM send_log ORDER BY created_at DESC LIMIT ?`
)

func (db *DB) CreateSendLogEntry(entry *domain.SendLogEntry) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSendLog,
			entry.Id.String(),
			entry.Username,
			entry.InboxURI,
			entry.StatusCode,
			entry.Error,
			entry.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadRecentSendLog(limit int) (error, *[]domain.SendLogEntry) {
	rows, err := db.db.Query(sqlSelectRecentSendLog, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var entries []domain.SendLogEntry
	for rows.Next() {
		var entry domain.SendLogEntry
		var idStr string
		if err := rows.Scan(&idStr, &entry.Username, &entry.InboxURI, &entry.StatusCode, &entry.Error, &entry.CreatedAt); err != nil {
			return err, &entries
		}
		entry.Id, _ = uuid.Parse(idStr)
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return err, &entries
	}
	return nil, &entries
}
