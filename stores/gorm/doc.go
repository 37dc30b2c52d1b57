//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the passlink store interfaces.
// It supports any database that GORM supports (PostgreSQL, SQLite, etc.)
// and is suitable for production deployments requiring relational database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts, unique on lowercased email and username
//   - verification_codes: At most one email verification code per user
//   - magic_links: Issued sign-in links, many per user
//   - sessions: Server-side sessions for SessionStore
//
// # Concurrency
//
// VerificationCodeStore.ReplaceCode is a conditional UPDATE on the version
// column, and both Delete* methods report the affected row count, which the
// flows use to make redemption one-shot across processes.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	users := gormstore.NewUserStore(db)
//	codes := gormstore.NewVerificationCodeStore(db)
//	links := gormstore.NewMagicLinkStore(db)
//	sessions := passlink.NewSessionManager(cfg, gormstore.NewSessionStore(db), users, nil)
package gorm
