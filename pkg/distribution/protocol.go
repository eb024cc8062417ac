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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/keycodec"
	"github.com/jeremyhahn/go-pqckeys/pkg/keystore"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqckeys/pkg/types"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

// ContactStore is the part of the contact cache the protocol writes to.
// *contacts.Cache implements it.
type ContactStore interface {
	SaveContact(identifier string, kind types.KeyKind, algorithm string, publicKey []byte) error
	SaveSharedSecret(identifier string, secret []byte) error
	Get(identifier string, kind types.KeyKind) (*types.ContactEntry, error)
}

// Config configures a Protocol.
type Config struct {
	// Registry supplies the account's own key stores. Required.
	Registry *keystore.Registry

	// Contacts receives ingested keys and shared secrets. Required.
	Contacts ContactStore

	// Transport delivers composed messages. Only Send needs it.
	Transport Transport

	// Subject and Body default to DefaultSubject and DefaultBody.
	Subject string
	Body    string

	// Limiter throttles ingestion per sender. Optional.
	Limiter *ratelimit.Limiter

	// Codec derives KEM session keys. Defaults to keycodec.Default().
	Codec *keycodec.Codec

	Logger logger.Logger
	Now    func() time.Time
}

// Protocol composes and ingests key distribution messages.
type Protocol struct {
	registry  *keystore.Registry
	contacts  ContactStore
	transport Transport
	subject   string
	body      string
	limiter   *ratelimit.Limiter
	codec     *keycodec.Codec
	logger    logger.Logger
	now       func() time.Time
}

var classify = metrics.ClassifyBy(
	metrics.ErrorLabel{Err: ErrMissingPrerequisiteKey, Label: "missing_prerequisite_key"},
	metrics.ErrorLabel{Err: ErrMalformedPayload, Label: "malformed_payload"},
	metrics.ErrorLabel{Err: ErrRateLimited, Label: "rate_limited"},
	metrics.ErrorLabel{Err: ErrNoTransport, Label: "no_transport"},
	metrics.ErrorLabel{Err: ErrKemUnavailable, Label: "kem_unavailable"},
	metrics.ErrorLabel{Err: keystore.ErrUnsupportedAlgorithm, Label: "unsupported_algorithm"},
	metrics.ErrorLabel{Err: keystore.ErrKeyLengthMismatch, Label: "key_length_mismatch"},
	metrics.ErrorLabel{Err: keystore.ErrAlgorithmMismatch, Label: "algorithm_mismatch"},
	metrics.ErrorLabel{Err: keystore.ErrStorageIO, Label: "storage_io"},
	metrics.ErrorLabel{Err: context.Canceled, Label: "canceled"},
	metrics.ErrorLabel{Err: context.DeadlineExceeded, Label: "deadline_exceeded"},
)

// New creates a Protocol.
func New(cfg *Config) (*Protocol, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", keystore.ErrInvalidConfig)
	}
	if cfg.Contacts == nil {
		return nil, fmt.Errorf("%w: contact store is required", keystore.ErrInvalidConfig)
	}
	p := &Protocol{
		registry:  cfg.Registry,
		contacts:  cfg.Contacts,
		transport: cfg.Transport,
		subject:   cfg.Subject,
		body:      cfg.Body,
		limiter:   cfg.Limiter,
		codec:     cfg.Codec,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if p.subject == "" {
		p.subject = DefaultSubject
	}
	if p.body == "" {
		p.body = DefaultBody
	}
	if p.codec == nil {
		p.codec = keycodec.Default()
	}
	if p.logger == nil {
		p.logger = logger.NewNop()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// BuildPayload collects the account's public keys. The classical key is
// required; each PQC key is included when its store holds a pair.
func (p *Protocol) BuildPayload(ctx context.Context, account string) (*Payload, error) {
	if err := validation.ValidateIdentifier(account); err != nil {
		return nil, err
	}
	sender := types.NormalizeIdentifier(account)
	payload := &Payload{Sender: sender, Subject: p.subject, Body: p.body}

	for _, kind := range types.AllKeyKinds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pub, alg, err := p.ownKey(kind, sender)
		if err != nil {
			return nil, err
		}
		if pub == nil {
			if kind == types.KeyKindClassical {
				return nil, fmt.Errorf("%w: %s has no classical key pair", ErrMissingPrerequisiteKey, sender)
			}
			continue
		}
		payload.setKey(kind, pub, alg)
	}
	return payload, nil
}

// ownKey returns the account's public key and algorithm for kind, or nil
// when the account has no pair or no store serves the kind.
func (p *Protocol) ownKey(kind types.KeyKind, account string) ([]byte, string, error) {
	store, err := p.registry.Get(kind)
	if errors.Is(err, keystore.ErrNoStore) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	has, err := store.HasOwnKeyPair(account)
	if err != nil || !has {
		return nil, "", err
	}
	pub, err := store.ExportPublicKey(account)
	if err != nil || pub == nil {
		return nil, "", err
	}
	alg, err := store.Algorithm(account)
	if err != nil {
		return nil, "", err
	}
	return pub, alg, nil
}

// ComposeAnnouncement builds the key distribution message for account
// without sending it.
func (p *Protocol) ComposeAnnouncement(ctx context.Context, account string, recipients []string) (msg *OutboundMessage, err error) {
	done := metrics.Track(metrics.OpAnnounce, types.KeyKindClassical.String(), classify)
	defer func() { done(err) }()

	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if err := validation.ValidateIdentifiers(recipients); err != nil {
		return nil, err
	}
	payload, err := p.BuildPayload(ctx, account)
	if err != nil {
		return nil, err
	}
	to := make([]string, len(recipients))
	for i, r := range recipients {
		to[i] = types.NormalizeIdentifier(r)
	}
	msg, err = p.newMessage(payload, to)
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, p.logger).Debug("announcement composed",
		logger.String("message_id", msg.ID),
		logger.String("sender", payload.Sender),
		logger.Int("recipients", len(to)),
		logger.Int("attachments", len(msg.Attachments)))
	return msg, nil
}

func (p *Protocol) newMessage(payload *Payload, to []string) (*OutboundMessage, error) {
	msg := &OutboundMessage{
		ID:          uuid.NewString(),
		From:        payload.Sender,
		To:          to,
		Subject:     payload.Subject,
		Body:        payload.Body,
		Headers:     map[string]string{HeaderKeyDistribution: "true"},
		Attachments: make([]Attachment, 0, len(types.AllKeyKinds)),
		CreatedAt:   p.now().UTC(),
	}
	for _, kind := range types.AllKeyKinds {
		pub, alg := payload.Key(kind)
		if len(pub) == 0 {
			continue
		}
		data, err := EncodeArmor(kind, alg, pub)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Name:        attachmentName(kind),
			ContentType: ArmorContentType,
			Data:        data,
		})
	}
	return msg, nil
}

// Send composes an announcement and hands it to the transport.
func (p *Protocol) Send(ctx context.Context, account string, recipients []string) (*OutboundMessage, error) {
	if p.transport == nil {
		return nil, ErrNoTransport
	}
	msg, err := p.ComposeAnnouncement(ctx, account, recipients)
	if err != nil {
		return nil, err
	}
	if err := p.transport.Deliver(ctx, msg); err != nil {
		metrics.RecordDistribution(metrics.DirectionOutbound, metrics.StatusError)
		return nil, fmt.Errorf("distribution: deliver %s: %w", msg.ID, err)
	}
	metrics.RecordDistribution(metrics.DirectionOutbound, metrics.StatusSuccess)
	logger.WithContext(ctx, p.logger).Info("announcement sent",
		logger.String("message_id", msg.ID),
		logger.Strings("to", msg.To))
	return msg, nil
}

// ParseMessage rebuilds a payload from a message's attachments. Keys whose
// attachment carries no algorithm are matched to a backend algorithm by
// public key length. An attachment that cannot be decoded is left out of
// the payload and returned as a failure for its kind; only a nil message
// is an error.
func (p *Protocol) ParseMessage(msg *OutboundMessage) (*Payload, []KeyFailure, error) {
	if msg == nil {
		return nil, nil, fmt.Errorf("%w: nil message", ErrMalformedPayload)
	}
	payload := &Payload{
		Sender:  types.NormalizeIdentifier(msg.From),
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	var failures []KeyFailure
	for _, kind := range types.AllKeyKinds {
		att := msg.Attachment(attachmentName(kind))
		if att == nil {
			continue
		}
		pub, alg, err := DecodeArmor(kind, att.Data)
		if err != nil {
			failures = append(failures, KeyFailure{Kind: kind, Algorithm: alg, Err: err})
			continue
		}
		if alg == "" {
			alg = p.inferAlgorithm(kind, pub)
		}
		payload.setKey(kind, pub, alg)
	}
	return payload, failures, nil
}

// inferAlgorithm picks the kind's default algorithm when its key length
// matches, then the first known algorithm that does, then the default.
func (p *Protocol) inferAlgorithm(kind types.KeyKind, publicKey []byte) string {
	def := types.DefaultAlgorithm(kind)
	store, err := p.registry.Get(kind)
	if err != nil {
		return def
	}
	b := store.Backend()
	if n, err := b.PublicKeyLength(def); err == nil && n == len(publicKey) {
		return def
	}
	for _, alg := range b.Algorithms() {
		if n, err := b.PublicKeyLength(alg); err == nil && n > 0 && n == len(publicKey) {
			return alg
		}
	}
	return def
}

// IngestAnnouncement stores the sender's keys in the contact cache. The
// classical key is always attempted and each PQC key when present. A key
// that fails validation is recorded in the report and skipped; only a
// payload without a valid sender fails the call.
func (p *Protocol) IngestAnnouncement(ctx context.Context, payload *Payload) (*IngestReport, error) {
	return p.ingest(ctx, payload, nil)
}

// ingest stores payload's keys. Kinds listed in undecodable were offered
// but could not be read; they are reported as failures and not attempted.
func (p *Protocol) ingest(ctx context.Context, payload *Payload, undecodable []KeyFailure) (report *IngestReport, err error) {
	done := metrics.Track(metrics.OpIngest, types.KeyKindClassical.String(), classify)
	defer func() { done(err) }()

	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if err := validation.ValidateIdentifier(payload.Sender); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformedPayload, err)
	}
	sender := types.NormalizeIdentifier(payload.Sender)
	log := logger.WithContext(ctx, p.logger).With(logger.String("sender", sender))

	if p.limiter != nil && !p.limiter.Allow(sender) {
		metrics.RecordRateLimited()
		log.Warn("announcement rate limited")
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, sender)
	}

	report = &IngestReport{Sender: sender}
	for _, kind := range types.AllKeyKinds {
		if f, ok := findFailure(undecodable, kind); ok {
			report.Failures = append(report.Failures, f)
			metrics.RecordError(metrics.OpIngest, kind.String(), classify(f.Err))
			log.Warn("key not ingested", logger.Kind(kind), logger.Error(f.Err))
			continue
		}
		pub, alg := payload.Key(kind)
		if len(pub) == 0 && kind != types.KeyKindClassical {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.ingestKey(sender, kind, alg, pub); err != nil {
			report.Failures = append(report.Failures, KeyFailure{Kind: kind, Algorithm: alg, Err: err})
			metrics.RecordError(metrics.OpIngest, kind.String(), classify(err))
			log.Warn("key not ingested", logger.Kind(kind), logger.Algorithm(alg), logger.Error(err))
			continue
		}
		report.Imported = append(report.Imported, kind)
	}

	status := metrics.StatusSuccess
	switch {
	case len(report.Imported) == 0:
		status = metrics.StatusError
	case !report.OK():
		status = metrics.StatusPartial
	}
	metrics.RecordDistribution(metrics.DirectionInbound, status)
	log.Info("announcement ingested",
		logger.Int("imported", len(report.Imported)),
		logger.Int("failed", len(report.Failures)))
	return report, nil
}

func findFailure(failures []KeyFailure, kind types.KeyKind) (KeyFailure, bool) {
	for _, f := range failures {
		if f.Kind == kind {
			return f, true
		}
	}
	return KeyFailure{}, false
}

func (p *Protocol) ingestKey(sender string, kind types.KeyKind, algorithm string, publicKey []byte) error {
	if len(publicKey) == 0 {
		return fmt.Errorf("%w: no %s key", ErrMalformedPayload, kind)
	}
	if algorithm == "" {
		algorithm = p.inferAlgorithm(kind, publicKey)
	}
	return p.contacts.SaveContact(sender, kind, algorithm, publicKey)
}

// IngestMessage parses and ingests a received message. Messages without
// the key distribution header are rejected. Attachments that cannot be
// decoded are reported per kind while the remaining keys are stored.
func (p *Protocol) IngestMessage(ctx context.Context, msg *OutboundMessage) (*IngestReport, error) {
	if !msg.IsKeyDistribution() {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedPayload, HeaderKeyDistribution)
	}
	payload, undecodable, err := p.ParseMessage(msg)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, payload, undecodable)
}
