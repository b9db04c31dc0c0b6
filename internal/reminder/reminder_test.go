package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartpymes/restaurante/internal/config"
	"github.com/smartpymes/restaurante/internal/models"
	"github.com/smartpymes/restaurante/internal/store"
	"github.com/smartpymes/restaurante/internal/testutil"
	"github.com/smartpymes/restaurante/internal/timenorm"
)

type fixture struct {
	store  store.Store
	sender *testutil.FakeSender
	clock  *testutil.Clock
	disp   *Dispatcher
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	bogota, err := time.LoadLocation("America/Bogota")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	b, err := config.NewBusiness(config.WithLocation(bogota), config.WithRestaurantName("La Fonda"))
	if err != nil {
		t.Fatalf("NewBusiness: %v", err)
	}
	f := &fixture{
		store:  st,
		sender: &testutil.FakeSender{},
		clock:  testutil.NewClock(time.Date(2026, 10, 19, 18, 0, 0, 0, bogota)),
	}
	norm := timenorm.New(b, timenorm.WithClock(f.clock.Now))
	f.disp = NewDispatcher(b, norm, st, f.sender)
	return f
}

func (f *fixture) book(t *testing.T, contact string, start time.Time) int64 {
	t.Helper()
	id, err := f.store.AddBooking(models.Booking{
		Contact:   contact,
		Name:      "Ana",
		Service:   "mesa",
		PartySize: 2,
		Start:     start,
		End:       start.Add(90 * time.Minute),
		EventID:   "evt-" + contact,
	})
	if err != nil {
		t.Fatalf("AddBooking: %v", err)
	}
	return id
}

func TestRunTickSendsOnce(t *testing.T) {
	run := func(t *testing.T, st store.Store) {
		f := newFixture(t, st)
		ctx := context.Background()
		id := f.book(t, "573001112233", f.clock.Now().Add(time.Hour))

		res, err := f.disp.RunTick(ctx)
		if err != nil {
			t.Fatalf("RunTick: %v", err)
		}
		if res.Due != 1 || res.Sent != 1 || res.Failed != 0 {
			t.Errorf("first tick result = %+v", res)
		}
		got := f.sender.To("573001112233")
		if len(got) != 1 {
			t.Fatalf("expected one reminder, got %v", got)
		}
		if want := "⏰ Recordatorio: hoy a las 07:00 p. m. en La Fonda. Reserva #"; !strings.HasPrefix(got[0], want) {
			t.Errorf("reminder = %q", got[0])
		}
		b, err := st.GetBooking(id)
		if err != nil {
			t.Fatalf("GetBooking: %v", err)
		}
		if !b.Reminded {
			t.Error("booking not marked reminded")
		}

		f.clock.Advance(time.Minute)
		res, err = f.disp.RunTick(ctx)
		if err != nil {
			t.Fatalf("second RunTick: %v", err)
		}
		if res.Due != 0 || f.sender.Count() != 1 {
			t.Errorf("second tick resent: result %+v, sent %d", res, f.sender.Count())
		}
	}

	t.Run("memory", func(t *testing.T) { run(t, store.NewInMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "reminder.db")))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		defer st.Close()
		run(t, st)
	})
}

func TestRunTickLeadWindow(t *testing.T) {
	f := newFixture(t, store.NewInMemoryStore())
	now := f.clock.Now()
	f.book(t, "past", now.Add(-time.Minute))
	f.book(t, "edge", now.Add(2*time.Hour))
	f.book(t, "later", now.Add(3*time.Hour))
	f.book(t, "now", now)

	res, err := f.disp.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if res.Sent != 1 || len(f.sender.To("now")) != 1 {
		t.Errorf("only the booking starting now should be reminded: %+v %+v", res, f.sender.Sent)
	}
}

func TestRunTickSendFailureIsolated(t *testing.T) {
	f := newFixture(t, store.NewInMemoryStore())
	now := f.clock.Now()
	badID := f.book(t, "bad", now.Add(30*time.Minute))
	f.book(t, "good", now.Add(45*time.Minute))
	f.sender.FailFor = map[string]error{"bad": errors.New("delivery failed")}

	res, err := f.disp.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if res.Due != 2 || res.Sent != 1 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(f.sender.To("good")) != 1 {
		t.Error("good booking not reminded")
	}
	b, _ := f.store.GetBooking(badID)
	if b.Reminded {
		t.Error("failed booking was marked reminded")
	}

	// Still inside the window, so the next tick retries it.
	f.sender.FailFor = nil
	f.clock.Advance(5 * time.Minute)
	res, _ = f.disp.RunTick(context.Background())
	if res.Sent != 1 || len(f.sender.To("bad")) != 1 {
		t.Errorf("retry result = %+v", res)
	}
}

type cancellingStore struct {
	store.Store
}

// MarkReminded simulates a cancellation racing the tick.
func (s cancellingStore) MarkReminded(id int64) error {
	_ = s.Store.DeleteBooking(id)
	return s.Store.MarkReminded(id)
}

func TestRunTickToleratesCancelledBooking(t *testing.T) {
	f := newFixture(t, cancellingStore{store.NewInMemoryStore()})
	f.book(t, "c", f.clock.Now().Add(time.Hour))

	res, err := f.disp.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("result = %+v", res)
	}
}

type brokenStore struct{}

func (brokenStore) ListDueReminders(from, to time.Time) ([]models.Booking, error) {
	return nil, errors.New("db down")
}

func (brokenStore) MarkReminded(id int64) error { return nil }

func TestRunTickQueryError(t *testing.T) {
	f := newFixture(t, store.NewInMemoryStore())
	f.disp.bookings = brokenStore{}
	if _, err := f.disp.RunTick(context.Background()); err == nil {
		t.Error("expected error when the query fails")
	}
}

func TestRunTickStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, store.NewInMemoryStore())
	f.book(t, "c", f.clock.Now().Add(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.disp.RunTick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if res.Sent != 0 || f.sender.Count() != 0 {
		t.Errorf("sent after cancellation: %+v", res)
	}
}
