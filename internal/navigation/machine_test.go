package navigation

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/voicepay/internal/command"
	"github.com/loqalabs/voicepay/internal/haptics"
	"github.com/loqalabs/voicepay/internal/prompts"
	"github.com/loqalabs/voicepay/internal/screen"
)

type fakeCodes struct{}

func (fakeCodes) Static() string { return "static-code" }

func (fakeCodes) Dynamic(amount int64) string { return "dynamic-code" }

func newMachine() *Machine {
	return New(Options{
		Prompts:        prompts.New("id-ID"),
		Codes:          fakeCodes{},
		SuccessTimeout: 3 * time.Second,
		GreetingDelay:  500 * time.Millisecond,
	})
}

func effectsOf[T Effect](out Outcome) []T {
	var found []T
	for _, e := range out.Effects {
		if v, ok := e.(T); ok {
			found = append(found, v)
		}
	}
	return found
}

func nav(target screen.Screen) command.Command {
	return command.Command{Kind: command.Navigate, Target: target}
}

func TestDynamicPaymentFlow(t *testing.T) {
	m := newMachine()
	var persisted []PersistTransaction

	step := func(cmd command.Command) Outcome {
		out := m.Apply(cmd)
		persisted = append(persisted, effectsOf[PersistTransaction](out)...)
		return out
	}

	step(nav(screen.DynamicQR))
	if st := m.State(); st.Screen != screen.DynamicQR || st.Phase() != screen.Input || st.Payment.Method != screen.DynamicQR {
		t.Fatalf("unexpected state after navigate: %+v", st)
	}

	step(command.Command{Kind: command.SetAmountDigits, Digits: "25000"})
	out := step(command.Command{Kind: command.GenerateCode})
	st := m.State()
	if st.Phase() != screen.Display || st.Payment.ConfirmedAmount != 25000 {
		t.Fatalf("unexpected state after generate: %+v %+v", st, st.Payment)
	}
	if codes := effectsOf[ShowCode](out); len(codes) != 1 || codes[0].Payload != "dynamic-code" {
		t.Fatalf("expected dynamic code, got %v", out.Effects)
	}

	out = step(command.Command{Kind: command.ConfirmPayment})
	st = m.State()
	if st.Screen != screen.Success || st.Payment == nil || st.Payment.ConfirmedAmount != 25000 {
		t.Fatalf("unexpected state after confirm: %+v", st)
	}
	speech := effectsOf[Speak](out)
	if len(speech) != 1 || speech[0].Text != prompts.New("id-ID").PaymentReceived(25000) {
		t.Fatalf("unexpected confirmation speech %v", speech)
	}

	step(command.Command{Kind: command.ConfirmPayment})
	step(command.Command{Kind: command.Cancel})

	if len(persisted) != 1 {
		t.Fatalf("expected one persist, got %d", len(persisted))
	}
	want := PersistTransaction{Amount: "25000", PaymentMethod: "dynamic", Status: "success"}
	if persisted[0] != want {
		t.Fatalf("persist = %+v, want %+v", persisted[0], want)
	}
	if m.State().Screen != screen.Home || m.State().Payment != nil {
		t.Fatalf("expected home without payment, got %+v", m.State())
	}
}

func TestGenerateWithoutAmountIsRejected(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.DynamicQR))
	before := m.State()

	out := m.Apply(command.Command{Kind: command.GenerateCode})
	if out.Changed || out.Reason != ReasonAmountRequired {
		t.Fatalf("expected rejection, got %+v", out)
	}
	warns := effectsOf[Warn](out)
	if len(warns) != 1 || warns[0].Message != "Silakan masukkan nominal pembayaran" {
		t.Fatalf("expected warning, got %v", out.Effects)
	}
	if len(effectsOf[PersistTransaction](out)) != 0 {
		t.Fatal("rejected generate must not persist")
	}
	after := m.State()
	if after.Screen != before.Screen || after.Phase() != screen.Input || after.Epoch != before.Epoch {
		t.Fatalf("state changed: before %+v after %+v", before, after)
	}

	// Confirming from input is not possible either.
	if out := m.Apply(command.Command{Kind: command.ConfirmPayment}); out.Reason != ReasonNotConfirmable {
		t.Fatalf("expected not confirmable, got %+v", out)
	}
}

func TestRejectedGenerateKeepsAmount(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.StaticQR))
	m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: "1500"})

	out := m.Apply(command.Command{Kind: command.GenerateCode, Digits: "000"})
	if out.Reason != ReasonAmountRequired {
		t.Fatalf("expected amount required, got %+v", out)
	}
	if got := m.State().Payment.Amount; got != 1500 {
		t.Fatalf("amount = %d, want 1500", got)
	}
}

func TestAmountLimits(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.StaticQR))
	out := m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: strings.Repeat("9", MaxAmountDigits+1)})
	if out.Changed || out.Reason != ReasonAmountInvalid {
		t.Fatalf("expected invalid amount, got %+v", out)
	}
	out = m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: "007"})
	if !out.Changed || m.State().Payment.Amount != 7 {
		t.Fatalf("expected amount 7, got %+v", m.State().Payment)
	}
	if out := m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: "7"}); out.Reason != ReasonAmountSame {
		t.Fatalf("expected unchanged, got %+v", out)
	}
}

func TestTapActivateWaits(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.TapPayment))
	if out := m.Apply(command.Command{Kind: command.GenerateCode, Digits: "10000"}); out.Reason != ReasonWrongTrigger {
		t.Fatalf("generate on tap should not apply, got %+v", out)
	}
	out := m.Apply(command.Command{Kind: command.Activate, Digits: "10000"})
	if !out.Changed {
		t.Fatalf("expected activate, got %+v", out)
	}
	st := m.State()
	if st.Phase() != screen.Waiting || st.Payment.ConfirmedAmount != 10000 {
		t.Fatalf("unexpected state %+v %+v", st, st.Payment)
	}
	if len(effectsOf[ShowCode](out)) != 0 {
		t.Fatal("tap payment shows no code")
	}
	out = m.Apply(command.Command{Kind: command.ConfirmPayment})
	persist := effectsOf[PersistTransaction](out)
	if len(persist) != 1 || persist[0].PaymentMethod != "tap" || persist[0].Amount != "10000" {
		t.Fatalf("unexpected persist %v", persist)
	}
}

func TestCancelLeavesScreen(t *testing.T) {
	m := newMachine()
	if out := m.Apply(command.Command{Kind: command.Cancel}); out.Reason != ReasonAlreadyHome {
		t.Fatalf("cancel on home should be a no-op, got %+v", out)
	}
	for _, target := range []screen.Screen{screen.StaticQR, screen.DynamicQR, screen.TapPayment, screen.History, screen.Help} {
		m.Apply(nav(target))
		out := m.Apply(nav(screen.Home))
		if !out.Changed || len(effectsOf[StopSpeech](out)) != 1 {
			t.Fatalf("leaving %s: expected stop speech, got %+v", target, out)
		}
		vib := effectsOf[Vibrate](out)
		if len(vib) != 1 || vib[0].Pattern != haptics.Tap {
			t.Fatalf("leaving %s: expected tap vibration, got %v", target, vib)
		}
		if st := m.State(); st.Screen != screen.Home || st.Payment != nil {
			t.Fatalf("leaving %s: got %+v", target, st)
		}
	}
}

func TestNavigateOnlyFromHome(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.Help))
	if out := m.Apply(nav(screen.StaticQR)); out.Reason != ReasonNotFromHome {
		t.Fatalf("expected not from home, got %+v", out)
	}
	m.Apply(command.Command{Kind: command.Cancel})
	if out := m.Apply(nav(screen.Success)); out.Reason != ReasonBadTarget {
		t.Fatalf("expected bad target, got %+v", out)
	}
	if m.State().Screen != screen.Home {
		t.Fatalf("expected home, got %s", m.State().Screen)
	}
}

func TestSuccessReturnsHomeOnTimer(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.DynamicQR))
	m.Apply(command.Command{Kind: command.GenerateCode, Digits: "5000"})
	out := m.Apply(command.Command{Kind: command.ConfirmPayment})

	timers := effectsOf[StartTimer](out)
	if len(timers) != 1 || timers[0].Kind != TimerReturnHome || timers[0].After != 3*time.Second {
		t.Fatalf("expected return timer, got %v", timers)
	}
	out = m.Expire(TimerReturnHome, timers[0].Epoch)
	if !out.Changed || m.State().Screen != screen.Home {
		t.Fatalf("expected home after expiry, got %+v", m.State())
	}
	if len(effectsOf[StopSpeech](out)) != 0 || len(effectsOf[Vibrate](out)) != 0 {
		t.Fatalf("timed return must let the confirmation finish, got %+v", out.Effects)
	}
}

func TestCancelledSuccessTimerIsStale(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.StaticQR))
	m.Apply(command.Command{Kind: command.GenerateCode, Digits: "5000"})
	timer := effectsOf[StartTimer](m.Apply(command.Command{Kind: command.ConfirmPayment}))[0]

	m.Apply(command.Command{Kind: command.Cancel})
	m.Apply(nav(screen.Help))

	out := m.Expire(TimerReturnHome, timer.Epoch)
	if out.Changed || out.Reason != ReasonStaleTimer {
		t.Fatalf("expected stale timer, got %+v", out)
	}
	if m.State().Screen != screen.Help {
		t.Fatalf("stale timer moved screen to %s", m.State().Screen)
	}
}

func TestGreetingIsScreenScoped(t *testing.T) {
	m := newMachine()
	out := m.Apply(nav(screen.DynamicQR))
	timers := effectsOf[StartTimer](out)
	if len(timers) != 1 || timers[0].Kind != TimerGreeting || timers[0].After != 500*time.Millisecond {
		t.Fatalf("expected greeting timer, got %v", out.Effects)
	}
	m.Apply(command.Command{Kind: command.GenerateCode, Digits: "2000"})

	if out := m.Expire(TimerGreeting, timers[0].Epoch); len(out.Effects) != 0 {
		t.Fatalf("input prompt played after phase change: %v", out.Effects)
	}
}

func TestHistoryGreeting(t *testing.T) {
	m := newMachine()
	out := m.Apply(nav(screen.History))
	loads := effectsOf[LoadHistory](out)
	if len(loads) != 1 {
		t.Fatalf("expected history load, got %v", out.Effects)
	}
	if out := m.HistoryLoaded(loads[0].Epoch+1, 2); out.Reason != ReasonStaleHistory {
		t.Fatalf("expected stale history, got %+v", out)
	}
	out = m.HistoryLoaded(loads[0].Epoch, 4)
	timers := effectsOf[StartTimer](out)
	if len(timers) != 1 {
		t.Fatalf("expected greeting timer, got %v", out.Effects)
	}
	speech := effectsOf[Speak](m.Expire(TimerGreeting, timers[0].Epoch))
	if len(speech) != 1 || !strings.Contains(speech[0].Text, "4 transaksi") || speech[0].Language != "id-ID" {
		t.Fatalf("unexpected history greeting %v", speech)
	}
}

func TestApplyAtRejectsStaleSnapshot(t *testing.T) {
	m := newMachine()
	m.Apply(nav(screen.DynamicQR))
	m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: "9000"})
	snap := m.State().Snapshot()

	m.Apply(command.Command{Kind: command.Cancel})
	m.Apply(nav(screen.StaticQR))

	_, err := m.ApplyAt(snap, command.Command{Kind: command.GenerateCode})
	if !errors.Is(err, ErrStaleCommand) {
		t.Fatalf("expected ErrStaleCommand, got %v", err)
	}
	if st := m.State(); st.Screen != screen.StaticQR || st.Phase() != screen.Input || st.Payment.Amount != 0 {
		t.Fatalf("stale command mutated state: %+v %+v", st, st.Payment)
	}

	out, err := m.ApplyAt(m.State().Snapshot(), command.Command{Kind: command.SetAmountDigits, Digits: "100"})
	if err != nil || !out.Changed {
		t.Fatalf("fresh snapshot should apply: %+v %v", out, err)
	}
}

func TestRandomCommandSequencesKeepInvariants(t *testing.T) {
	targets := []screen.Screen{screen.Home, screen.StaticQR, screen.DynamicQR, screen.TapPayment, screen.Success, screen.History, screen.Help}
	digits := []string{"", "0", "5", "25000", "000100", strings.Repeat("1", MaxAmountDigits+2)}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		m := newMachine()
		var lastEpoch uint64
		for step := 0; step < 60; step++ {
			before := m.State()
			var out Outcome
			switch rng.Intn(8) {
			case 0:
				out = m.Apply(nav(targets[rng.Intn(len(targets))]))
			case 1:
				out = m.Apply(command.Command{Kind: command.SetAmountDigits, Digits: digits[rng.Intn(len(digits))]})
			case 2:
				out = m.Apply(command.Command{Kind: command.GenerateCode, Digits: digits[rng.Intn(len(digits))]})
			case 3:
				out = m.Apply(command.Command{Kind: command.Activate, Digits: digits[rng.Intn(len(digits))]})
			case 4:
				out = m.Apply(command.Command{Kind: command.ConfirmPayment})
			case 5:
				out = m.Apply(command.Command{Kind: command.Cancel})
			case 6:
				out = m.Apply(command.Command{Kind: command.Unrecognized})
			case 7:
				epoch := m.State().Epoch
				if rng.Intn(2) == 0 && epoch > 0 {
					epoch--
				}
				out = m.Expire(TimerKind(rng.Intn(2)), epoch)
			}

			st := m.State()
			if (st.Payment != nil) != st.Screen.HoldsPayment() {
				t.Fatalf("run %d step %d: payment %v on %s", run, step, st.Payment, st.Screen)
			}
			if st.Payment != nil && st.Payment.Phase != screen.Input {
				if st.Payment.ConfirmedAmount != st.Payment.Amount || st.Payment.ConfirmedAmount <= 0 {
					t.Fatalf("run %d step %d: amount not frozen %+v", run, step, st.Payment)
				}
			}
			if st.Epoch < lastEpoch {
				t.Fatalf("run %d step %d: epoch went backwards", run, step)
			}
			lastEpoch = st.Epoch

			persists := effectsOf[PersistTransaction](out)
			enteredSuccess := before.Screen != screen.Success && st.Screen == screen.Success
			if enteredSuccess != (len(persists) == 1) || len(persists) > 1 {
				t.Fatalf("run %d step %d: persist %v while entering success=%v", run, step, persists, enteredSuccess)
			}
			if !out.Changed && out.Reason == "" && len(out.Effects) == 0 {
				t.Fatalf("run %d step %d: silent no-op", run, step)
			}
		}
	}
}
