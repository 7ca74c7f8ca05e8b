package database

import (
	"database/sql"
)

type PgClassChatRepository struct {
	conn *sql.DB
}

func NewPgClassChatRepository(dsn string) (*PgClassChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgClassChatRepository{conn: db}, nil
}

func (db *PgClassChatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgClassChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
