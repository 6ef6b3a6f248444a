//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the authgate
// directory and challenge store. It supports any database that GORM
// supports (PostgreSQL, SQLite, etc.) and is suitable for production
// deployments requiring relational database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: User accounts, unique on email
//   - linked_accounts: Provider accounts, unique on (provider, provider_account_id)
//   - challenges: Verification tokens and second factor codes
//
// Uniqueness is enforced by the database. Open the DB with
// gorm.Config{TranslateError: true} so violations surface as
// authgate.ErrAlreadyExists.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	directory := gormstore.NewDirectory(db)
//	challenges := gormstore.NewChallengeStore(db)
package gorm
