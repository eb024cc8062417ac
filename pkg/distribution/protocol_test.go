// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package distribution

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pqckeys/pkg/backend"
	"github.com/jeremyhahn/go-pqckeys/pkg/backend/mocks"
	"github.com/jeremyhahn/go-pqckeys/pkg/contacts"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqckeys/pkg/storage/memory"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
)

type party struct {
	id       string
	storage  *memory.Storage
	registry *keystore.Registry
	contacts *contacts.Cache
	proto    *Protocol
}

func newParty(t *testing.T, id string, configure func(*Config)) *party {
	t.Helper()
	set := mocks.NewDefaultMockSet()
	st := memory.New()
	cache, err := contacts.New(&contacts.Config{Backends: set})
	require.NoError(t, err)
	reg, err := keystore.NewRegistryFromSet(set, &keystore.RegistryConfig{Storage: st, Contacts: cache})
	require.NoError(t, err)

	cfg := &Config{Registry: reg, Contacts: cache}
	if configure != nil {
		configure(cfg)
	}
	proto, err := New(cfg)
	require.NoError(t, err)
	return &party{id: id, storage: st, registry: reg, contacts: cache, proto: proto}
}

func (p *party) generate(t *testing.T, kinds ...types.KeyKind) {
	t.Helper()
	for _, kind := range kinds {
		ks, err := p.registry.Get(kind)
		require.NoError(t, err)
		require.NoError(t, ks.GenerateKeyPair(context.Background(), p.id, ""))
	}
}

func (p *party) publicKey(t *testing.T, kind types.KeyKind) []byte {
	t.Helper()
	ks, err := p.registry.Get(kind)
	require.NoError(t, err)
	pub, err := ks.ExportPublicKey(p.id)
	require.NoError(t, err)
	return pub
}

func fill(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, keystore.ErrInvalidConfig)

	reg, err := keystore.NewRegistry()
	require.NoError(t, err)
	_, err = New(&Config{Registry: reg})
	assert.ErrorIs(t, err, keystore.ErrInvalidConfig)
}

func TestComposeAnnouncement_RequiresClassicalKey(t *testing.T) {
	alice := newParty(t, "alice@example.com", nil)
	alice.generate(t, types.KeyKindPqcSignature, types.KeyKindPqcKem)

	msg, err := alice.proto.ComposeAnnouncement(context.Background(), alice.id, []string{"bob@example.com"})
	assert.ErrorIs(t, err, ErrMissingPrerequisiteKey)
	assert.Nil(t, msg)
}

func TestComposeAnnouncement_IncludesPresentKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := newParty(t, "alice@example.com", func(c *Config) {
		c.Now = func() time.Time { return now }
	})
	alice.generate(t, types.KeyKindClassical, types.KeyKindPqcKem)

	msg, err := alice.proto.ComposeAnnouncement(context.Background(), "Alice@Example.com",
		[]string{"Bob@Example.com", "carol@example.com"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice@example.com", msg.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, msg.To)
	assert.Equal(t, DefaultSubject, msg.Subject)
	assert.Equal(t, DefaultBody, msg.Body)
	assert.Equal(t, now, msg.CreatedAt)
	assert.True(t, msg.IsKeyDistribution())

	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, AttachmentClassical, msg.Attachments[0].Name)
	assert.Equal(t, AttachmentPqcKem, msg.Attachments[1].Name)
	assert.Nil(t, msg.Attachment(AttachmentPqcSignature))
	for _, att := range msg.Attachments {
		assert.Equal(t, ArmorContentType, att.ContentType)
	}
	assert.Contains(t, string(msg.Attachments[1].Data), "-----BEGIN "+ArmorTypePqcKem+"-----")
	assert.Contains(t, string(msg.Attachments[1].Data), ArmorHeaderAlgorithm+": "+types.AlgorithmKyber512)
}

func TestComposeAnnouncement_InvalidInput(t *testing.T) {
	alice := newParty(t, "alice@example.com", nil)
	alice.generate(t, types.KeyKindClassical)
	ctx := context.Background()

	_, err := alice.proto.ComposeAnnouncement(ctx, alice.id, nil)
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = alice.proto.ComposeAnnouncement(ctx, alice.id, []string{"not an address"})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = alice.proto.ComposeAnnouncement(cancelled, alice.id, []string{"bob@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnnouncementRoundTrip(t *testing.T) {
	ctx := context.Background()
	alice := newParty(t, "alice@example.com", nil)
	bob := newParty(t, "bob@example.com", nil)
	alice.generate(t, types.AllKeyKinds...)

	msg, err := alice.proto.ComposeAnnouncement(ctx, alice.id, []string{bob.id})
	require.NoError(t, err)

	report, err := bob.proto.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, "alice@example.com", report.Sender)
	assert.ElementsMatch(t, types.AllKeyKinds, report.Imported)

	for _, kind := range types.AllKeyKinds {
		entry, err := bob.contacts.Get("ALICE@example.com", kind)
		require.NoError(t, err, kind.String())
		assert.Equal(t, alice.publicKey(t, kind), entry.PublicKey)
		assert.Equal(t, types.DefaultAlgorithm(kind), entry.Algorithm)
	}
}

func TestParseMessage_Base64Fallback(t *testing.T) {
	bob := newParty(t, "bob@example.com", nil)
	kem := fill(1184, 0x07)
	msg := &OutboundMessage{
		From:    "alice@example.com",
		Headers: map[string]string{HeaderKeyDistribution: "true"},
		Attachments: []Attachment{
			{Name: AttachmentClassical, Data: []byte(base64.StdEncoding.EncodeToString(fill(32, 1)))},
			{Name: AttachmentPqcKem, Data: []byte(base64.StdEncoding.EncodeToString(kem))},
		},
	}

	payload, failures, err := bob.proto.ParseMessage(msg)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, types.AlgorithmPGPEd25519, payload.ClassicalAlgorithm)
	assert.Equal(t, kem, payload.PqcKemPublicKey)
	assert.Equal(t, types.AlgorithmKyber768, payload.PqcKemAlgorithm)
	assert.Empty(t, payload.PqcSignaturePublicKey)
}

func TestParseMessage_Malformed(t *testing.T) {
	bob := newParty(t, "bob@example.com", nil)
	sigArmor, err := EncodeArmor(types.KeyKindPqcSignature, types.AlgorithmDilithium2, fill(1312, 2))
	require.NoError(t, err)

	tests := []struct {
		name string
		att  Attachment
	}{
		{"not base64", Attachment{Name: AttachmentPqcKem, Data: []byte("!!not-base64!!")}},
		{"empty", Attachment{Name: AttachmentPqcKem, Data: []byte("   ")}},
		{"wrong armor type", Attachment{Name: AttachmentPqcKem, Data: sigArmor}},
		{"broken armor", Attachment{Name: AttachmentClassical, Data: []byte("-----BEGIN PGP PUBLIC KEY BLOCK-----\n\n%%%\n")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, failures, err := bob.proto.ParseMessage(&OutboundMessage{From: "alice@example.com", Attachments: []Attachment{tt.att}})
			require.NoError(t, err)
			require.Len(t, failures, 1)
			assert.ErrorIs(t, failures[0].Err, ErrMalformedPayload)
			pub, _ := payload.Key(failures[0].Kind)
			assert.Empty(t, pub)
		})
	}

	_, _, err = bob.proto.ParseMessage(nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIngestMessage_SkipsUndecodableAttachment(t *testing.T) {
	ctx := context.Background()
	alice := newParty(t, "alice@example.com", nil)
	bob := newParty(t, "bob@example.com", nil)
	alice.generate(t, types.AllKeyKinds...)

	msg, err := alice.proto.ComposeAnnouncement(ctx, alice.id, []string{bob.id})
	require.NoError(t, err)
	att := msg.Attachment(AttachmentPqcKem)
	require.NotNil(t, att)
	att.Data = []byte("!!corrupt!!")

	report, err := bob.proto.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []types.KeyKind{types.KeyKindClassical, types.KeyKindPqcSignature}, report.Imported)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, types.KeyKindPqcKem, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0].Err, ErrMalformedPayload)

	entry, err := bob.contacts.Get("alice@example.com", types.KeyKindClassical)
	require.NoError(t, err)
	assert.Equal(t, alice.publicKey(t, types.KeyKindClassical), entry.PublicKey)
	_, err = bob.contacts.Get("alice@example.com", types.KeyKindPqcKem)
	assert.ErrorIs(t, err, contacts.ErrUnknownContact)
}

func TestIngestMessage_UndecodableClassicalKey(t *testing.T) {
	ctx := context.Background()
	bob := newParty(t, "bob@example.com", nil)
	msg := &OutboundMessage{
		From:    "alice@example.com",
		Headers: map[string]string{HeaderKeyDistribution: "true"},
		Attachments: []Attachment{
			{Name: AttachmentClassical, Data: []byte("%%%")},
			{Name: AttachmentPqcKem, Data: []byte(base64.StdEncoding.EncodeToString(fill(800, 3)))},
		},
	}

	report, err := bob.proto.IngestMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, []types.KeyKind{types.KeyKindPqcKem}, report.Imported)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, types.KeyKindClassical, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0].Err, ErrMalformedPayload)
}

func TestIngestAnnouncement_PerKeyFailures(t *testing.T) {
	bob := newParty(t, "bob@example.com", nil)
	payload := &Payload{
		Sender:                "Alice@Example.com",
		ClassicalPublicKey:    fill(32, 1),
		ClassicalAlgorithm:    types.AlgorithmPGPEd25519,
		PqcSignaturePublicKey: fill(100, 2),
		PqcSignatureAlgorithm: types.AlgorithmDilithium2,
		PqcKemPublicKey:       fill(800, 3),
		PqcKemAlgorithm:       "NotAKem",
	}

	report, err := bob.proto.IngestAnnouncement(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []types.KeyKind{types.KeyKindClassical}, report.Imported)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, types.KeyKindPqcSignature, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0].Err, backend.ErrKeyLengthMismatch)
	assert.Equal(t, types.KeyKindPqcKem, report.Failures[1].Kind)
	assert.ErrorIs(t, report.Failures[1].Err, backend.ErrUnsupportedAlgorithm)

	_, err = bob.contacts.Get("alice@example.com", types.KeyKindClassical)
	assert.NoError(t, err)
	_, err = bob.contacts.Get("alice@example.com", types.KeyKindPqcSignature)
	assert.ErrorIs(t, err, contacts.ErrUnknownContact)
}

func TestIngestAnnouncement_MissingClassicalKeyIsRecorded(t *testing.T) {
	bob := newParty(t, "bob@example.com", nil)
	report, err := bob.proto.IngestAnnouncement(context.Background(), &Payload{
		Sender:          "alice@example.com",
		PqcKemPublicKey: fill(800, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, []types.KeyKind{types.KeyKindPqcKem}, report.Imported)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, types.KeyKindClassical, report.Failures[0].Kind)
	assert.ErrorIs(t, report.Failures[0].Err, ErrMalformedPayload)

	alg, err := bob.contacts.GetAlgorithm("alice@example.com", types.KeyKindPqcKem)
	require.NoError(t, err)
	assert.Equal(t, types.AlgorithmKyber512, alg)
}

func TestIngestAnnouncement_Malformed(t *testing.T) {
	bob := newParty(t, "bob@example.com", nil)
	ctx := context.Background()

	_, err := bob.proto.IngestAnnouncement(ctx, nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = bob.proto.IngestAnnouncement(ctx, &Payload{ClassicalPublicKey: fill(32, 1)})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = bob.proto.IngestMessage(ctx, &OutboundMessage{From: "alice@example.com"})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIngestAnnouncement_RateLimited(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()
	bob := newParty(t, "bob@example.com", func(c *Config) { c.Limiter = limiter })
	ctx := context.Background()
	payload := &Payload{Sender: "alice@example.com", ClassicalPublicKey: fill(32, 1)}

	_, err := bob.proto.IngestAnnouncement(ctx, payload)
	require.NoError(t, err)

	_, err = bob.proto.IngestAnnouncement(ctx, payload)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = bob.proto.IngestAnnouncement(ctx, &Payload{Sender: "carol@example.com", ClassicalPublicKey: fill(32, 1)})
	assert.NoError(t, err)
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("no transport", func(t *testing.T) {
		alice := newParty(t, "alice@example.com", nil)
		alice.generate(t, types.KeyKindClassical)
		_, err := alice.proto.Send(ctx, alice.id, []string{"bob@example.com"})
		assert.ErrorIs(t, err, ErrNoTransport)
	})

	t.Run("spool", func(t *testing.T) {
		outbox := memory.New()
		spool, err := NewSpoolTransport(outbox)
		require.NoError(t, err)
		alice := newParty(t, "alice@example.com", func(c *Config) { c.Transport = spool })
		alice.generate(t, types.KeyKindClassical, types.KeyKindPqcSignature)

		msg, err := alice.proto.Send(ctx, alice.id, []string{"bob@example.com"})
		require.NoError(t, err)

		pending, err := spool.Pending()
		require.NoError(t, err)
		assert.Equal(t, []string{msg.ID}, pending)

		loaded, err := spool.Load(msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.Attachments, loaded.Attachments)
		assert.True(t, loaded.IsKeyDistribution())

		require.NoError(t, spool.Remove(msg.ID))
		pending, err = spool.Pending()
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("delivery failure", func(t *testing.T) {
		boom := errors.New("smtp down")
		alice := newParty(t, "alice@example.com", func(c *Config) {
			c.Transport = TransportFunc(func(context.Context, *OutboundMessage) error { return boom })
		})
		alice.generate(t, types.KeyKindClassical)
		_, err := alice.proto.Send(ctx, alice.id, []string{"bob@example.com"})
		assert.ErrorIs(t, err, boom)
	})
}

func TestSharedSecretExchange(t *testing.T) {
	ctx := context.Background()
	alice := newParty(t, "alice@example.com", nil)
	bob := newParty(t, "bob@example.com", nil)
	alice.generate(t, types.AllKeyKinds...)
	bob.generate(t, types.AllKeyKinds...)

	for _, pair := range [][2]*party{{alice, bob}, {bob, alice}} {
		msg, err := pair[0].proto.ComposeAnnouncement(ctx, pair[0].id, []string{pair[1].id})
		require.NoError(t, err)
		_, err = pair[1].proto.IngestMessage(ctx, msg)
		require.NoError(t, err)
	}

	ct, err := alice.proto.EstablishSharedSecret(ctx, "Bob@Example.com")
	require.NoError(t, err)
	require.NotEmpty(t, ct)

	require.NoError(t, bob.proto.AcceptSharedSecret(ctx, bob.id, alice.id, ct))

	aliceKey, err := alice.contacts.GetSharedSecret(bob.id)
	require.NoError(t, err)
	bobKey, err := bob.contacts.GetSharedSecret(alice.id)
	require.NoError(t, err)
	assert.Len(t, aliceKey, 32)
	assert.Equal(t, aliceKey, bobKey)
}

func TestSharedSecretExchange_Errors(t *testing.T) {
	ctx := context.Background()
	alice := newParty(t, "alice@example.com", nil)

	_, err := alice.proto.EstablishSharedSecret(ctx, "bob@example.com")
	assert.ErrorIs(t, err, contacts.ErrUnknownContact)

	err = alice.proto.AcceptSharedSecret(ctx, alice.id, "bob@example.com", []byte("ct"))
	assert.ErrorIs(t, err, keystore.ErrNoKeyPair)

	err = alice.proto.AcceptSharedSecret(ctx, alice.id, "bob@example.com", nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	sigOnly, err := keystore.NewRegistryFromSet(backend.Set{
		types.KeyKindClassical: mocks.NewMockBackend(types.KeyKindClassical, map[string]int{types.AlgorithmPGPEd25519: 32}),
	}, &keystore.RegistryConfig{Storage: memory.New()})
	require.NoError(t, err)
	p, err := New(&Config{Registry: sigOnly, Contacts: alice.contacts})
	require.NoError(t, err)
	_, err = p.EstablishSharedSecret(ctx, "bob@example.com")
	assert.ErrorIs(t, err, ErrKemUnavailable)
}

func TestArmorRoundTrip(t *testing.T) {
	for _, kind := range types.AllKeyKinds {
		t.Run(kind.String(), func(t *testing.T) {
			pub := fill(64, byte(kind)+1)
			data, err := EncodeArmor(kind, types.DefaultAlgorithm(kind), pub)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(data), "-----BEGIN "+armorType(kind)+"-----"))

			got, alg, err := DecodeArmor(kind, data)
			require.NoError(t, err)
			assert.Equal(t, pub, got)
			assert.Equal(t, types.DefaultAlgorithm(kind), alg)
		})
	}
}
