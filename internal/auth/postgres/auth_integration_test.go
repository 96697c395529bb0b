// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/sokohq/soko/internal/auth"
	"github.com/sokohq/soko/internal/auth/postgres"
)

type discardMailer struct{}

func (discardMailer) SendVerificationCode(context.Context, string, string) error { return nil }

var _ = Describe("auth services on PostgreSQL", func() {
	var (
		ctx       context.Context
		accounts  *postgres.AccountRepository
		requests  *postgres.VerificationRepository
		tokens    *postgres.AccessTokenRepository
		svc       *auth.AccountService
		tokenSvc  *auth.AccessTokenService
		verifySvc *auth.VerificationCodeService
		email     string
	)

	params := auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}
	const password = "Correct-Horse-42!"

	BeforeEach(func() {
		ctx = context.Background()
		email = fmt.Sprintf("%s@example.com", ulid.Make().String())

		accounts = postgres.NewAccountRepository(testPool)
		requests = postgres.NewVerificationRepository(testPool)
		tokens = postgres.NewAccessTokenRepository(testPool)
		tx := postgres.NewTransactor(testPool)

		key, err := auth.NewMACKey([]byte("0123456789abcdef0123456789abcdef"))
		Expect(err).NotTo(HaveOccurred())

		opts := []auth.Option{auth.WithVerificationParams(params)}
		verifySvc, err = auth.NewVerificationCodeService(accounts, requests, tx, opts...)
		Expect(err).NotTo(HaveOccurred())
		tokenSvc, err = auth.NewAccessTokenService(accounts, tokens, tx, key, opts...)
		Expect(err).NotTo(HaveOccurred())
		svc, err = auth.NewAccountService(accounts, auth.NewArgon2idHasherWithParams(params), tx, verifySvc, tokenSvc, discardMailer{}, opts...)
		Expect(err).NotTo(HaveOccurred())
	})

	It("signs up, confirms and authenticates", func() {
		code, account, err := svc.Signup(ctx, email, password)
		Expect(err).NotTo(HaveOccurred())

		stored, err := accounts.GetByEmail(ctx, email)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.ID).To(Equal(account.ID))
		Expect(stored.EmailVerified).To(BeFalse())

		_, err = svc.Confirm(ctx, email, code)
		Expect(err).NotTo(HaveOccurred())

		plaintext, token, err := svc.IssueToken(ctx, email, password, "ci", time.Hour)
		Expect(err).NotTo(HaveOccurred())

		got, err := svc.Authenticate(ctx, plaintext)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(account.ID))

		used, err := tokens.GetByID(ctx, token.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(used.LastUsedAt).NotTo(BeNil())

		Expect(svc.RevokeToken(ctx, account.ID, token.ID)).To(Succeed())
		Expect(svc.RevokeToken(ctx, account.ID, token.ID)).To(Succeed())
		_, err = svc.Authenticate(ctx, plaintext)
		Expect(auth.Classify(err)).To(Equal(auth.ClassUnauthorized))
	})

	It("keeps a single active request under concurrent issues", func() {
		_, account, err := svc.Signup(ctx, email, password)
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, _, err := verifySvc.Issue(ctx, account)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		reqs, err := requests.ListByAccount(ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(reqs).To(HaveLen(9))

		active := 0
		for _, req := range reqs {
			if req.Status == auth.VerificationActive {
				active++
			}
		}
		Expect(active).To(Equal(1))
	})

	It("confirms a code exactly once under concurrency", func() {
		code, _, err := svc.Signup(ctx, email, password)
		Expect(err).NotTo(HaveOccurred())

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				if _, err := svc.Confirm(ctx, email, code); err == nil {
					successes.Add(1)
				} else {
					Expect(err).To(MatchError(auth.ErrNoActiveRequest))
				}
			}()
		}
		wg.Wait()
		Expect(successes.Load()).To(Equal(int32(1)))
	})

	It("reports a concurrent duplicate signup as a conflict", func() {
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, _, err := svc.Signup(ctx, email, password)
				if err == nil {
					successes.Add(1)
					return
				}
				Expect(auth.Classify(err)).To(Equal(auth.ClassConflict))
			}()
		}
		wg.Wait()
		Expect(successes.Load()).To(BeNumerically(">=", 1))
	})

	It("enforces the active token limit", func() {
		code, _, err := svc.Signup(ctx, email, password)
		Expect(err).NotTo(HaveOccurred())
		_, err = svc.Confirm(ctx, email, code)
		Expect(err).NotTo(HaveOccurred())

		for range auth.DefaultMaxActiveTokens {
			_, _, err := svc.IssueToken(ctx, email, password, "ci", time.Hour)
			Expect(err).NotTo(HaveOccurred())
		}
		_, _, err = svc.IssueToken(ctx, email, password, "ci", time.Hour)
		Expect(err).To(MatchError(auth.ErrTokenLimitReached))
	})
})
