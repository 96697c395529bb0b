// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sokohq/soko/internal/store"
)

// startPostgres starts a throwaway PostgreSQL container and returns its URL.
func startPostgres(ctx context.Context) (string, func()) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("soko_test"),
		postgres.WithUsername("soko"),
		postgres.WithPassword("soko"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())
	return connStr, func() { _ = container.Terminate(ctx) }
}

var _ = Describe("Migrator", func() {
	var (
		ctx      context.Context
		connStr  string
		cleanup  func()
		migrator *store.Migrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		connStr, cleanup = startPostgres(ctx)

		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = migrator.Close()
		cleanup()
	})

	It("runs a full up, step and down cycle", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(migrator.Up()).To(Succeed())
		latest, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(BeNumerically(">", 0))
		Expect(dirty).To(BeFalse())

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest - 1))

		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(Equal([]uint{latest}))

		Expect(migrator.Steps(1)).To(Succeed())
		Expect(migrator.Down()).To(Succeed())
		version, _, err = migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
	})

	Describe("schema", func() {
		var pool *pgxpool.Pool

		BeforeEach(func() {
			Expect(migrator.Up()).To(Succeed())

			var err error
			pool, err = store.Connect(ctx, store.ConnectConfig{URL: connStr, Timeout: 10 * time.Second}, nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(pool.Close)

			_, err = pool.Exec(ctx, `INSERT INTO account (id, email, password_hash) VALUES ('a1', 'a@example.com', 'h')`)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a duplicate email", func() {
			_, err := pool.Exec(ctx, `INSERT INTO account (id, email, password_hash) VALUES ('a2', 'a@example.com', 'h')`)
			Expect(err).To(HaveOccurred())
		})

		It("allows one active verification request per account", func() {
			_, err := pool.Exec(ctx, `INSERT INTO verification_code_request (id, account_id, cyphertext) VALUES ('v1', 'a1', 'c')`)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `INSERT INTO verification_code_request (id, account_id, cyphertext) VALUES ('v2', 'a1', 'c')`)
			Expect(err).To(HaveOccurred())

			_, err = pool.Exec(ctx, `UPDATE verification_code_request SET status = 'cancelled' WHERE id = 'v1'`)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `INSERT INTO verification_code_request (id, account_id, cyphertext) VALUES ('v2', 'a1', 'c')`)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects an unknown verification status", func() {
			_, err := pool.Exec(ctx, `INSERT INTO verification_code_request (id, account_id, cyphertext, status) VALUES ('v1', 'a1', 'c', 'pending')`)
			Expect(err).To(HaveOccurred())
		})

		It("requires a 32 byte mac", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO access_token (id, account_id, name, mac, created_at, expires_at)
				VALUES ('t1', 'a1', 'ci', '\x0102'::bytea, now(), now())`)
			Expect(err).To(HaveOccurred())
		})

		It("rejects expiry before creation", func() {
			_, err := pool.Exec(ctx, `
				INSERT INTO access_token (id, account_id, name, mac, created_at, expires_at)
				VALUES ('t1', 'a1', 'ci', decode(repeat('ab', 32), 'hex'), now(), now() - interval '1 second')`)
			Expect(err).To(HaveOccurred())
		})

		It("refreshes updated_at on update", func() {
			_, err := pool.Exec(ctx, `UPDATE account SET updated_at = now() - interval '1 day' WHERE id = 'a1'`)
			Expect(err).NotTo(HaveOccurred())

			var stale bool
			err = pool.QueryRow(ctx, `SELECT updated_at < now() - interval '1 hour' FROM account WHERE id = 'a1'`).Scan(&stale)
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(BeFalse())
		})
	})
})
