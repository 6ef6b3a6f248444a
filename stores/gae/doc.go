//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// authgate directory and challenge store. It is designed for deployment on
// Google Cloud Platform and supports multi-tenancy through Datastore
// namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: User accounts keyed by user id
//   - UserEmail: Email index keyed by the lowercased address
//   - LinkedAccount: Provider accounts keyed by provider and subject
//   - Challenge: Verification tokens and second factor codes
//
// Uniqueness of emails and provider accounts comes from the entity keys;
// creates run in a transaction that fails if the key already exists.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	directory := gae.NewDirectory(client, "")  // default namespace
//	challenges := gae.NewChallengeStore(client, "")
package gae
