package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Event 一次注册尝试的审计记录
type Event struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	InviteCode string    `json:"invite_code"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message"`
	ClientIP   string    `json:"client_ip"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder 审计写入接口
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Nop 未配置数据库时使用
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Store 基于 database/sql 的审计存储，支持 sqlite 与 postgres
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS registration_attempts (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL,
	invite_code TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	created_at  BIGINT NOT NULL
)`

// Open 打开数据库并建表
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record 写入一条审计记录
func (s *Store) Record(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registration_attempts (id, email, invite_code, outcome, message, client_ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID.String(),
		strings.ToLower(event.Email),
		event.InviteCode,
		event.Outcome,
		event.Message,
		event.ClientIP,
		event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert registration attempt: %w", err)
	}
	return nil
}

// Recent 按时间倒序列出某邮箱的最近记录
func (s *Store) Recent(ctx context.Context, email string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, invite_code, outcome, message, client_ip, created_at
		 FROM registration_attempts WHERE email = $1 ORDER BY created_at DESC LIMIT $2`,
		strings.ToLower(email), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query registration attempts: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			id        string
			createdAt int64
		)
		if err := rows.Scan(&id, &e.Email, &e.InviteCode, &e.Outcome, &e.Message, &e.ClientIP, &createdAt); err != nil {
			return nil, fmt.Errorf("scan registration attempt: %w", err)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse attempt id: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
