package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gym_billing_bot/internal/domain/audit"
	"gym_billing_bot/internal/domain/member"
	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/domain/messenger"
	"gym_billing_bot/internal/domain/payment"
	idb "gym_billing_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// fixedConfigProvider returns a provider pinned to the given config.
func fixedConfigProvider(cfg DispatchConfig) *DispatchConfigProvider {
	p := &DispatchConfigProvider{log: testLogger()}
	p.current.Store(cfg)
	return p
}

// fakeLedger is an in-memory message.Repository. All window queries scan
// the recorded attempts, which keeps the fake honest about filter
// semantics instead of canning answers.
type fakeLedger struct {
	mu       sync.Mutex
	attempts []*message.Attempt
	nextID   int64

	recordErr error
}

func newFakeLedger() *fakeLedger { return &fakeLedger{} }

func (f *fakeLedger) Record(_ context.Context, a *message.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.nextID++
	a.ID = f.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	clone := *a
	f.attempts = append(f.attempts, &clone)
	return nil
}

func (f *fakeLedger) all() []*message.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*message.Attempt, len(f.attempts))
	copy(out, f.attempts)
	return out
}

func (f *fakeLedger) countFor(recipient string) int {
	n := 0
	for _, a := range f.all() {
		if a.Recipient == recipient {
			n++
		}
	}
	return n
}

// The window queries filter on direction only, like the SQL they stand in
// for: a failed attempt still spent a slot against the recipient.
func (f *fakeLedger) CountSentSince(_ context.Context, recipient string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.all() {
		if a.Recipient == recipient && a.Direction == message.DirectionSent && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) CountFailedSince(_ context.Context, recipient string, since time.Time) (int, error) {
	n := 0
	for _, a := range f.all() {
		if a.Recipient == recipient && a.Direction == message.DirectionSent && a.Status == message.StatusFailed && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) LastSentAt(_ context.Context, recipient string) (sql.NullTime, error) {
	var last sql.NullTime
	for _, a := range f.all() {
		if a.Recipient == recipient && a.Direction == message.DirectionSent {
			if !last.Valid || a.CreatedAt.After(last.Time) {
				last = sql.NullTime{Time: a.CreatedAt, Valid: true}
			}
		}
	}
	return last, nil
}

func (f *fakeLedger) HasRecentSent(_ context.Context, recipient string, category message.Category, since time.Time) (bool, error) {
	sentLike := []message.Status{message.StatusSent, message.StatusDelivered, message.StatusRead}
	for _, a := range f.all() {
		if a.Recipient == recipient && a.Category == category && a.Direction == message.DirectionSent &&
			statusIn(a.Status, sentLike) && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) ExistsExternalID(_ context.Context, externalID string) (bool, error) {
	for _, a := range f.all() {
		if a.ExternalID.Valid && a.ExternalID.String == externalID {
			return true, nil
		}
	}
	return false, nil
}

func statusIn(s message.Status, set []message.Status) bool {
	for _, want := range set {
		if s == want {
			return true
		}
	}
	return false
}

func (f *fakeLedger) markStatus(externalID string, from []message.Status, to message.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.ExternalID.Valid && a.ExternalID.String == externalID && statusIn(a.Status, from) {
			a.Status = to
			return nil
		}
	}
	return idb.ErrAttemptNotFound
}

func (f *fakeLedger) MarkDelivered(_ context.Context, externalID string) error {
	return f.markStatus(externalID, []message.Status{message.StatusSent}, message.StatusDelivered)
}

func (f *fakeLedger) MarkRead(_ context.Context, externalID string) error {
	return f.markStatus(externalID, []message.Status{message.StatusSent, message.StatusDelivered}, message.StatusRead)
}

func (f *fakeLedger) ListForRecipient(_ context.Context, recipient string, limit int) ([]*message.Attempt, error) {
	var out []*message.Attempt
	for _, a := range f.all() {
		if a.Recipient == recipient {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeLedger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*message.Attempt
	var removed int64
	for _, a := range f.attempts {
		if a.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	f.attempts = kept
	return removed, nil
}

// seedSent backdates a successful send into the ledger.
func (f *fakeLedger) seedSent(recipient string, category message.Category, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.attempts = append(f.attempts, &message.Attempt{
		ID:        f.nextID,
		Recipient: recipient,
		Category:  category,
		Direction: message.DirectionSent,
		Status:    message.StatusSent,
		CreatedAt: at,
	})
}

func (f *fakeLedger) seedFailed(recipient string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.attempts = append(f.attempts, &message.Attempt{
		ID:        f.nextID,
		Recipient: recipient,
		Category:  message.CategoryOverdueReminder,
		Direction: message.DirectionSent,
		Status:    message.StatusFailed,
		CreatedAt: at,
	})
}

var errNotFound = errors.New("not found")

// fakeMemberRepo is an in-memory member.Repository.
type fakeMemberRepo struct {
	mu      sync.Mutex
	members map[int64]*member.Member
	nextID  int64

	saveErr error
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{members: make(map[int64]*member.Member)}
}

func (f *fakeMemberRepo) put(m *member.Member) *member.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.ID == 0 {
		f.nextID++
		m.ID = f.nextID
	}
	clone := *m
	f.members[m.ID] = &clone
	return m
}

func (f *fakeMemberRepo) Create(_ context.Context, m *member.Member) error {
	f.put(m)
	return nil
}

func (f *fakeMemberRepo) GetByID(_ context.Context, id int64) (*member.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[id]
	if !ok {
		return nil, errNotFound
	}
	clone := *m
	return &clone, nil
}

func (f *fakeMemberRepo) GetByChatID(_ context.Context, chatID int64) (*member.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.ChatID.Valid && m.ChatID.Int64 == chatID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeMemberRepo) Update(_ context.Context, m *member.Member) error {
	f.put(m)
	return nil
}

func (f *fakeMemberRepo) SaveBillingState(_ context.Context, m *member.Member) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.put(m)
	return nil
}

func (f *fakeMemberRepo) ListActive(_ context.Context) ([]*member.Member, error) {
	var out []*member.Member
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.Active {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeMemberRepo) ListAll(_ context.Context) ([]*member.Member, error) {
	var out []*member.Member
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		clone := *m
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeMemberRepo) ListDueForRecheck(_ context.Context, asOf time.Time) ([]*member.Member, error) {
	var out []*member.Member
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.Role.Exempt() {
			continue
		}
		if !m.NextDueDate.Valid || m.NextDueDate.Time.Before(asOf) {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeMemberRepo) ListDueBetween(_ context.Context, from, to time.Time) ([]*member.Member, error) {
	var out []*member.Member
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if !m.Active || !m.NextDueDate.Valid {
			continue
		}
		d := m.NextDueDate.Time
		if !d.Before(from) && !d.After(to) {
			clone := *m
			out = append(out, &clone)
		}
	}
	return out, nil
}

// fakePaymentRepo is an in-memory payment.Repository. Upsert mirrors the
// real repository's contract: it applies the billing state to the member
// store in the same call.
type fakePaymentRepo struct {
	mu      sync.Mutex
	records map[int64]*payment.Record
	nextID  int64
	members *fakeMemberRepo

	upsertErr error
}

func newFakePaymentRepo(members *fakeMemberRepo) *fakePaymentRepo {
	return &fakePaymentRepo{records: make(map[int64]*payment.Record), members: members}
}

func (f *fakePaymentRepo) Upsert(ctx context.Context, rec *payment.Record, state member.BillingState) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	for _, existing := range f.records {
		if existing.MemberID == rec.MemberID && existing.Month == rec.Month && existing.Year == rec.Year {
			rec.ID = existing.ID
			break
		}
	}
	if rec.ID == 0 {
		f.nextID++
		rec.ID = f.nextID
	}
	clone := *rec
	f.records[rec.ID] = &clone
	f.mu.Unlock()

	m, err := f.members.GetByID(ctx, rec.MemberID)
	if err != nil {
		return err
	}
	m.NextDueDate = sql.NullTime{Time: state.NextDue, Valid: true}
	m.OverdueCycles = state.OverdueCycles
	m.Active = state.Active
	m.LastPaymentDate = state.LastPayment
	f.members.put(m)
	return nil
}

func (f *fakePaymentRepo) GetByID(_ context.Context, id int64) (*payment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, errNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakePaymentRepo) GetByPeriod(_ context.Context, memberID int64, month, year int) (*payment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.MemberID == memberID && r.Month == month && r.Year == year {
			clone := *r
			return &clone, nil
		}
	}
	return nil, errNotFound
}

func (f *fakePaymentRepo) LastForMember(_ context.Context, memberID int64) (*payment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *payment.Record
	for _, r := range f.records {
		if r.MemberID != memberID {
			continue
		}
		if last == nil || r.PaidAt.After(last.PaidAt) {
			last = r
		}
	}
	if last == nil {
		return nil, idb.ErrPaymentNotFound
	}
	clone := *last
	return &clone, nil
}

func (f *fakePaymentRepo) Update(_ context.Context, rec *payment.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		return errNotFound
	}
	clone := *rec
	f.records[rec.ID] = &clone
	return nil
}

func (f *fakePaymentRepo) Delete(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return 0, errNotFound
	}
	delete(f.records, id)
	return r.MemberID, nil
}

func (f *fakePaymentRepo) ListForMember(_ context.Context, memberID int64, limit int) ([]*payment.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*payment.Record
	for _, r := range f.records {
		if r.MemberID == memberID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

// fakeAuditRepo is an in-memory audit.Repository.
type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*audit.Entry
	nextID  int64
}

func newFakeAuditRepo() *fakeAuditRepo { return &fakeAuditRepo{} }

func (f *fakeAuditRepo) Insert(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	e.ID = f.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	clone := *e
	f.entries = append(f.entries, &clone)
	return nil
}

func (f *fakeAuditRepo) ListRecentByActions(_ context.Context, actions []audit.Action, limit int) ([]*audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	match := func(a audit.Action) bool {
		for _, want := range actions {
			if a == want {
				return true
			}
		}
		return false
	}
	var out []*audit.Entry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if match(f.entries[i].Action) {
			clone := *f.entries[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

// fakeMessenger is a scriptable messenger.Client.
type fakeMessenger struct {
	mu    sync.Mutex
	calls []fakeSend

	err   error
	delay time.Duration
	next  int64
}

type fakeSend struct {
	Recipient   string
	Template    messenger.TemplateID
	Params      []string
	HadDeadline bool
}

func newFakeMessenger() *fakeMessenger { return &fakeMessenger{} }

func (f *fakeMessenger) SendTemplate(ctx context.Context, recipient string, template messenger.TemplateID, params []string) (string, error) {
	_, hadDeadline := ctx.Deadline()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeSend{Recipient: recipient, Template: template, Params: params, HadDeadline: hadDeadline})
	if f.err != nil {
		return "", f.err
	}
	f.next++
	return fmt.Sprintf("msg-%d", f.next), nil
}

func (f *fakeMessenger) sent() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeSend, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeOfferSender is a scriptable OfferSender.
type fakeOfferSender struct {
	mu     sync.Mutex
	offers []fakeOffer

	err  error
	next int64
}

type fakeOffer struct {
	ChatID     int64
	ScheduleID int64
	Text       string
}

func newFakeOfferSender() *fakeOfferSender { return &fakeOfferSender{} }

func (f *fakeOfferSender) SendOffer(_ context.Context, chatID, scheduleID int64, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, fakeOffer{ChatID: chatID, ScheduleID: scheduleID, Text: text})
	if f.err != nil {
		return "", f.err
	}
	f.next++
	return fmt.Sprintf("offer-msg-%d", f.next), nil
}

func (f *fakeOfferSender) sent() []fakeOffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeOffer, len(f.offers))
	copy(out, f.offers)
	return out
}
