// Package database はデータベース接続の初期化とマイグレーションを提供します。
package database

import (
	"context"
	"embed"
	"fmt"
	"path"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite3/*.sql migrations/pgx/*.sql
var migrations embed.FS

// gooseUpContext はテスト用の差し替えポイントです。
var gooseUpContext = func(ctx context.Context, db *sqlx.DB, dir string) error {
	return goose.UpContext(ctx, db.DB, dir)
}

// Open はデータベースに接続し、疎通確認とマイグレーションを行います。
// driver は sqlite3 または pgx です。
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite は書き込みを直列化する
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return db, nil
}

// Migrate は埋め込みのマイグレーションをドライバーに応じて適用します。
func Migrate(ctx context.Context, db *sqlx.DB) error {
	driver := db.DriverName()
	dir := path.Join("migrations", driver)
	if entries, err := migrations.ReadDir(dir); err != nil || len(entries) == 0 {
		return fmt.Errorf("no migrations for driver %q", driver)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(driver); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, dir)
}
