//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the passlink
// store interfaces. It is designed for deployment on Google Cloud Platform and
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: User accounts keyed by user id
//   - UserEmail: Lowercased email to user id index, reserved in the same transaction as the user
//   - Username: Lowercased username to user id index
//   - VerificationCode: At most one code per user, keyed by user id
//   - MagicLink: Issued sign-in links, children of the owning User key
//
// Magic links share an entity group with their user, so the per-user queries
// are ancestor queries and stay strongly consistent.
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications.
// Pass an empty string for the default namespace.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	users := gae.NewUserStore(client, "myapp")
//	codes := gae.NewVerificationCodeStore(client, "myapp")
//	links := gae.NewMagicLinkStore(client, "myapp")
package gae
