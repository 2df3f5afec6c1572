package spooler

import (
	"context"
	"strings"
	"testing"
)

type coordinatorFixture struct {
	store     *RecordStore
	prefs     *memoryPreferences
	poster    *mockPoster
	uploader  *Uploader
	installed []Listener
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		store:  newTestStore(t),
		prefs:  newMemoryPreferences(),
		poster: &mockPoster{},
	}
	f.uploader = newTestUploader(t, f.store, f.poster, nil)
	return f
}

func (f *coordinatorFixture) coordinator(d Dialog) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Store:    f.store,
		Prefs:    f.prefs,
		Dialog:   d,
		Uploader: f.uploader,
		Install:  func(l Listener) { f.installed = append(f.installed, l) },
	})
}

func TestCoordinator_EvaluateNone(t *testing.T) {
	f := newCoordinatorFixture(t)
	if s := f.coordinator(nil).Evaluate(); s != StatusNone {
		t.Fatalf("want NONE, got %s", s)
	}
}

func TestCoordinator_EvaluateHasNew(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	writeTestRecord(t, f.store, "b")
	f.prefs.SetString(KeyConfirmedRecords, "a")
	if s := f.coordinator(nil).Evaluate(); s != StatusHasNew {
		t.Fatalf("want HAS_NEW, got %s", s)
	}
}

func TestCoordinator_EvaluateAllConfirmedIgnoresStaleIDs(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	f.prefs.SetString(KeyConfirmedRecords, "gone|a|older")
	if s := f.coordinator(nil).Evaluate(); s != StatusAllConfirmed {
		t.Fatalf("want ALL_CONFIRMED, got %s", s)
	}
}

func TestCoordinator_EvaluateReadFailureIsHasNew(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	f.prefs.SetString(KeyConfirmedRecords, "a")
	f.prefs.failRead = true
	if s := f.coordinator(nil).Evaluate(); s != StatusHasNew {
		t.Fatalf("want HAS_NEW on read failure, got %s", s)
	}
}

func TestCoordinator_EvaluateWithoutPreferencesIsHasNew(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	c := NewCoordinator(CoordinatorConfig{Store: f.store, Uploader: f.uploader})
	if s := c.Evaluate(); s != StatusHasNew {
		t.Fatalf("want HAS_NEW without preferences, got %s", s)
	}
}

func TestCoordinator_DeclineDeletesEverything(t *testing.T) {
	f := newCoordinatorFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		writeTestRecord(t, f.store, id)
	}
	f.prefs.SetString(KeyConfirmedRecords, "a|older")
	d := &scriptedDialog{choice: "decline"}
	l := &recordingListener{}

	if s := f.coordinator(d).Execute(context.Background(), l); s != StatusHasNew {
		t.Fatalf("want HAS_NEW, got %s", s)
	}
	if d.shown != 1 {
		t.Fatalf("dialog shown %d times", d.shown)
	}
	if ids := mustPending(t, f.store); len(ids) != 0 {
		t.Fatalf("expected all records deleted, got %v", ids)
	}
	if len(f.poster.Calls()) != 0 {
		t.Fatalf("nothing may be uploaded after decline")
	}
	if newFound, _, denied, _, _ := l.counts(); newFound != 1 || denied != 1 {
		t.Fatalf("want one new-found and one denied notification, got %d/%d", newFound, denied)
	}
	if len(f.installed) != 1 {
		t.Fatalf("capture must be installed, got %d installs", len(f.installed))
	}
	if got := f.prefs.raw(KeyConfirmedRecords); got != "a|older" {
		t.Fatalf("decline must not touch the confirmation set, got %q", got)
	}
	if v, _ := f.prefs.Bool(KeyAlwaysSend); v {
		t.Fatalf("decline must not set always-send")
	}
}

func TestCoordinator_DismissLeavesRecordsQueued(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	writeTestRecord(t, f.store, "b")
	d := &scriptedDialog{choice: "dismiss"}
	l := &recordingListener{}

	if s := f.coordinator(d).Execute(context.Background(), l); s != StatusHasNew {
		t.Fatalf("want HAS_NEW, got %s", s)
	}
	f.uploader.Wait()

	if ids := mustPending(t, f.store); len(ids) != 2 {
		t.Fatalf("dismissed prompt must keep records, got %v", ids)
	}
	if len(f.poster.Calls()) != 0 {
		t.Fatalf("nothing may be uploaded without an answer")
	}
	if _, _, denied, _, _ := l.counts(); denied != 0 {
		t.Fatalf("a dismissed prompt is not a denial")
	}
	if got := f.prefs.raw(KeyConfirmedRecords); got != "" {
		t.Fatalf("dismiss must not confirm anything, got %q", got)
	}
	if len(f.installed) != 1 {
		t.Fatalf("capture must be installed, got %d installs", len(f.installed))
	}
	// The next start asks again.
	d2 := &scriptedDialog{choice: "dismiss"}
	f.coordinator(d2).Execute(context.Background(), l)
	if d2.shown != 1 {
		t.Fatalf("want prompt on the next start, shown %d", d2.shown)
	}
}

func TestCoordinator_DrainConsentedSendsOnlyConfirmed(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	writeTestRecord(t, f.store, "b")
	f.prefs.SetString(KeyConfirmedRecords, "a")

	res, ok := f.coordinator(nil).DrainConsented(context.Background(), nil)
	if !ok {
		t.Fatalf("campaign refused")
	}
	if res.Sent != 1 || res.NotSent != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	calls := f.poster.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].fields.Get("raw"), "panic: a") {
		t.Fatalf("only the confirmed record may be sent, got %d posts", len(calls))
	}
	if ids := mustPending(t, f.store); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("unconfirmed record must stay queued, got %v", ids)
	}
}

func TestCoordinator_DrainConsentedWithoutConsentSendsNothing(t *testing.T) {
	for name, prefs := range map[string]*memoryPreferences{
		"empty set":    newMemoryPreferences(),
		"read failure": {values: map[string]string{KeyConfirmedRecords: "a"}, failRead: true},
	} {
		f := newCoordinatorFixture(t)
		f.prefs = prefs
		writeTestRecord(t, f.store, "a")

		if _, ok := f.coordinator(nil).DrainConsented(context.Background(), nil); !ok {
			t.Fatalf("%s: campaign refused", name)
		}
		if len(f.poster.Calls()) != 0 {
			t.Fatalf("%s: nothing may be sent without consent", name)
		}
		if len(mustPending(t, f.store)) != 1 {
			t.Fatalf("%s: record must stay queued", name)
		}
	}
}

func TestCoordinator_DrainConsentedWithStandingConsent(t *testing.T) {
	always := newCoordinatorFixture(t)
	always.prefs.SetBool(KeyAlwaysSend, true)
	auto := newCoordinatorFixture(t)

	for name, tc := range map[string]struct {
		f *coordinatorFixture
		l Listener
	}{
		"always-send": {always, nil},
		"auto-upload": {auto, &recordingListener{autoUpload: true}},
	} {
		writeTestRecord(t, tc.f.store, "a")
		writeTestRecord(t, tc.f.store, "b")

		res, _ := tc.f.coordinator(nil).DrainConsented(context.Background(), tc.l)
		if res.Sent != 2 {
			t.Fatalf("%s: want both records sent, got %+v", name, res)
		}
		if ids := mustPending(t, tc.f.store); len(ids) != 0 {
			t.Fatalf("%s: expected all records deleted, got %v", name, ids)
		}
	}
}

func TestCoordinator_AlwaysSendSkipsDialog(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	f.prefs.SetBool(KeyAlwaysSend, true)
	d := &scriptedDialog{choice: "decline"}

	f.coordinator(d).Execute(context.Background(), nil)
	f.uploader.Wait()

	if d.shown != 0 {
		t.Fatalf("dialog must not be shown with always-send set")
	}
	if len(f.poster.Calls()) != 1 {
		t.Fatalf("expected one upload, got %d", len(f.poster.Calls()))
	}
	if ids := mustPending(t, f.store); len(ids) != 0 {
		t.Fatalf("expected record deleted after upload, got %v", ids)
	}
}

func TestCoordinator_ListenerAutoUploadSkipsDialog(t *testing.T) {
	for _, l := range []*recordingListener{{autoUpload: true}, {found: true}} {
		f := newCoordinatorFixture(t)
		writeTestRecord(t, f.store, "a")
		d := &scriptedDialog{choice: "decline"}

		f.coordinator(d).Execute(context.Background(), l)
		f.uploader.Wait()

		if d.shown != 0 {
			t.Fatalf("dialog must not be shown")
		}
		if len(f.poster.Calls()) != 1 {
			t.Fatalf("expected one upload, got %d", len(f.poster.Calls()))
		}
	}
}

func TestCoordinator_AlwaysChoicePersistsFlag(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")

	f.coordinator(&scriptedDialog{choice: "always"}).Execute(context.Background(), nil)
	f.uploader.Wait()

	if v, _ := f.prefs.Bool(KeyAlwaysSend); !v {
		t.Fatalf("always-send flag not stored")
	}
	if len(f.poster.Calls()) != 1 {
		t.Fatalf("expected one upload")
	}
}

func TestCoordinator_ConfirmationSavedBeforeUpload(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")
	writeTestRecord(t, f.store, "b")
	f.poster.FailAlways()

	f.coordinator(&scriptedDialog{choice: "send"}).Execute(context.Background(), nil)
	f.uploader.Wait()

	if got := f.prefs.raw(KeyConfirmedRecords); got != "a|b" {
		t.Fatalf("unexpected confirmation set %q", got)
	}
	// Uploads failed; next startup sends without asking.
	d := &scriptedDialog{choice: "decline"}
	l := &recordingListener{}
	if s := f.coordinator(d).Execute(context.Background(), l); s != StatusAllConfirmed {
		t.Fatalf("want ALL_CONFIRMED, got %s", s)
	}
	f.uploader.Wait()
	if d.shown != 0 {
		t.Fatalf("confirmed records must not prompt again")
	}
	if _, confirmed, _, _, _ := l.counts(); confirmed != 1 {
		t.Fatalf("want one confirmed-found notification, got %d", confirmed)
	}
}

func TestCoordinator_NoDialogLeavesRecordsQueued(t *testing.T) {
	f := newCoordinatorFixture(t)
	writeTestRecord(t, f.store, "a")

	f.coordinator(nil).Execute(context.Background(), nil)
	f.uploader.Wait()

	if len(f.poster.Calls()) != 0 {
		t.Fatalf("nothing may be uploaded without consent")
	}
	if len(mustPending(t, f.store)) != 1 {
		t.Fatalf("record must stay queued")
	}
	if len(f.installed) != 1 {
		t.Fatalf("capture must be installed")
	}
}

func TestCoordinator_NoneInstallsCapture(t *testing.T) {
	f := newCoordinatorFixture(t)
	if s := f.coordinator(nil).Execute(context.Background(), nil); s != StatusNone {
		t.Fatalf("want NONE, got %s", s)
	}
	if len(f.installed) != 1 {
		t.Fatalf("capture must be installed")
	}
}

func TestConsoleDialog(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"d\n", "decline"},
		{"maybe\nalways\n", "always"},
		{"yes\n", "send"},
		{"", "dismiss"},
		{"maybe\n", "dismiss"},
	}
	for _, tc := range cases {
		var got string
		var out strings.Builder
		ConsoleDialog{In: strings.NewReader(tc.input), Out: &out}.Show(DefaultPrompt(), DialogCallbacks{
			OnDecline:    func() { got = "decline" },
			OnAlwaysSend: func() { got = "always" },
			OnSend:       func() { got = "send" },
			OnDismiss:    func() { got = "dismiss" },
		})
		if got != tc.want {
			t.Fatalf("input %q: want %s, got %s", tc.input, tc.want, got)
		}
		if !strings.Contains(out.String(), "Crash Data") {
			t.Fatalf("prompt title missing from output")
		}
	}
}

func TestPrompt_WithDefaults(t *testing.T) {
	p := Prompt{Title: "Oops"}.withDefaults()
	if p.Title != "Oops" || p.Send != "Send" || p.Decline != "Don't send" {
		t.Fatalf("unexpected prompt %+v", p)
	}
}
