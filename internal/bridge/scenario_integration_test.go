// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

//go:build integration

package bridge_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/handle"
	"github.com/grindstone/scripthost/internal/script/core"
)

var _ = Describe("Script host bridge", func() {
	var (
		ctx     context.Context
		session *bridge.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		session = bridge.NewSession(
			bridge.WithLogger(quietLogger()),
			bridge.WithConfig(bridge.Config{UnloadMaxPasses: 3}),
		)
		DeferCleanup(func() { session.Close(ctx) })
	})

	Describe("load and unload", func() {
		It("unloads cleanly when no handle is retained", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadSuccess))
		})

		It("reports a retained handle as still referenced", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())
			h, err := session.Create(key, "Mover", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadStillReferenced))

			_, err = session.Resolve(h)
			Expect(err).To(MatchError(bridge.ErrHandleStale))
			Expect(session.Free(h)).To(Succeed())
			Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadSuccess))
		})

		It("never resolves handles of an unloaded context", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())

			var handles []handle.Handle
			for i := uint32(0); i < 8; i++ {
				h, err := session.Create(key, "Mover", &core.EntityIdentity{Entity: i})
				Expect(err).NotTo(HaveOccurred())
				handles = append(handles, h)
			}
			for _, h := range handles {
				Expect(session.Free(h)).To(Succeed())
			}
			Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadSuccess))

			for _, h := range handles {
				_, err := session.Resolve(h)
				Expect(err).To(HaveOccurred())
			}
		})
	})

	Describe("component scenario", func() {
		It("creates, drives and releases an entity-bound component", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())

			h, err := session.Create(key, "Mover", &core.EntityIdentity{Entity: 42})
			Expect(err).NotTo(HaveOccurred())

			func() {
				obj, err := session.Resolve(h)
				Expect(err).NotTo(HaveOccurred())
				owner, ok := obj.Owner()
				Expect(ok).To(BeTrue())
				Expect(owner.Entity).To(Equal(uint32(42)))
			}()

			Expect(session.Invoke(h, bridge.OpDestroy)).To(Succeed())
			Expect(session.Free(h)).To(Succeed())
			Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadSuccess))
		})

		It("treats a missing update hook as a no-op", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())
			h, err := session.Create(key, "Empty", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(session.Invoke(h, bridge.OpUpdate)).To(Succeed())
		})

		It("allocates no handle for a missing type", func() {
			key, err := session.Load(ctx, moversDir)
			Expect(err).NotTo(HaveOccurred())
			before := session.LiveHandles()

			_, err = session.Create(key, "MissingType", nil)
			Expect(err).To(MatchError(bridge.ErrTypeNotFound))
			Expect(session.LiveHandles()).To(Equal(before))
		})
	})

	Describe("type identity", func() {
		It("keeps core types identical across load cycles", func() {
			var seen []*core.Type
			for range 2 {
				key, err := session.Load(ctx, moversDir)
				Expect(err).NotTo(HaveOccurred())
				h, err := session.Create(key, "Mover", nil)
				Expect(err).NotTo(HaveOccurred())

				func() {
					obj, err := session.Resolve(h)
					Expect(err).NotTo(HaveOccurred())
					ct, ok := session.Library().TypeOf(obj.Get("velocity"))
					Expect(ok).To(BeTrue())
					seen = append(seen, ct)
				}()

				Expect(session.Free(h)).To(Succeed())
				Expect(session.Unload(ctx, key)).To(Equal(bridge.UnloadSuccess))
			}
			Expect(seen[0]).To(BeIdenticalTo(seen[1]))
		})
	})
})
