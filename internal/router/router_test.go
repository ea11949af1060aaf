package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/support-bot/internal/handler"
	"github.com/psds-microservice/support-bot/internal/model"
	"github.com/psds-microservice/support-bot/internal/store"
	"github.com/psds-microservice/support-bot/internal/ticket"
	"github.com/psds-microservice/support-bot/internal/transcript"
)

func newServer(t *testing.T) http.Handler {
	t.Helper()
	return newSignedServer(t, nil)
}

// newSignedServer requires transcript tokens signed with key when key is non-empty.
func newSignedServer(t *testing.T, key []byte) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	kv := store.NewMemory()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := ticket.NewRegistry(kv).WithClock(func() time.Time {
		at = at.Add(time.Minute)
		return at
	})
	for _, u := range []string{"u1", "u2", "u1"} {
		if _, err := reg.Create(ctx, "General", u, "", "**Q**\nA\n\n"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := reg.Update(ctx, "u1", "0001", func(tk *model.Ticket) { tk.Status = model.TicketStatusClosed }); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, store.ClaimKey("c1"), model.Claim{UserID: "staff1", At: at, TicketType: "General", TicketID: "0002"}); err != nil {
		t.Fatal(err)
	}
	files := transcript.NewFileStore(t.TempDir())
	for _, name := range []string{"general-0001.html", "general-0001-user.html"} {
		if _, err := files.Save(name, []byte("<html>"+name+"</html>")); err != nil {
			t.Fatal(err)
		}
	}
	return New(handler.NewTicketHandler(reg, kv), handler.NewTranscriptHandler(files, key))
}

func get(t *testing.T, h http.Handler, path string, dst any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if dst != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
			t.Fatalf("%s: %v", path, err)
		}
	}
	return rec.Code
}

type listBody struct {
	Tickets []model.Ticket `json:"tickets"`
	Total   int            `json:"total"`
}

func TestListTickets(t *testing.T) {
	h := newServer(t)

	var all listBody
	if code := get(t, h, "/api/v1/tickets", &all); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if all.Total != 3 || all.Tickets[0].Number != "0001" || all.Tickets[2].Number != "0003" {
		t.Fatalf("all = %+v", all)
	}

	var mine listBody
	get(t, h, "/api/v1/tickets?user_id=u1&status=open", &mine)
	if mine.Total != 1 || mine.Tickets[0].Number != "0003" {
		t.Fatalf("open tickets of u1 = %+v", mine)
	}

	var page listBody
	get(t, h, "/api/v1/tickets?limit=1&offset=1", &page)
	if page.Total != 3 || len(page.Tickets) != 1 || page.Tickets[0].Number != "0002" {
		t.Fatalf("page = %+v", page)
	}

	var past listBody
	get(t, h, "/api/v1/tickets?offset=10", &past)
	if past.Total != 3 || len(past.Tickets) != 0 {
		t.Fatalf("past the end = %+v", past)
	}
}

func TestGetTicket(t *testing.T) {
	h := newServer(t)

	var tk model.Ticket
	if code := get(t, h, "/api/v1/tickets/u2/0002", &tk); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if tk.RequesterID != "u2" || tk.Type != "General" || tk.Status != model.TicketStatusOpen {
		t.Fatalf("ticket = %+v", tk)
	}
	if code := get(t, h, "/api/v1/tickets/u2/0001", nil); code != http.StatusNotFound {
		t.Fatalf("other user's number: status %d", code)
	}
	if code := get(t, h, "/api/v1/tickets/u2/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad number: status %d", code)
	}
}

func TestGetClaim(t *testing.T) {
	h := newServer(t)

	var cl model.Claim
	if code := get(t, h, "/api/v1/claims/c1", &cl); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if cl.UserID != "staff1" || cl.TicketID != "0002" {
		t.Fatalf("claim = %+v", cl)
	}
	if code := get(t, h, "/api/v1/claims/c2", nil); code != http.StatusNotFound {
		t.Fatalf("unclaimed: status %d", code)
	}
}

func TestProbesAndSpec(t *testing.T) {
	h := newServer(t)
	for _, p := range []string{"/health", "/ready", "/swagger/openapi.json"} {
		if code := get(t, h, p, nil); code != http.StatusOK {
			t.Errorf("%s: status %d", p, code)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("/swagger: status %d", rec.Code)
	}
}

func TestTranscriptServesOnlyRequesterCopies(t *testing.T) {
	h := newServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcripts/general-0001-user.html", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "<html>general-0001-user.html</html>" {
		t.Fatalf("user copy: %d %q", rec.Code, rec.Body.String())
	}
	for _, name := range []string{"general-0001.html", "general-0002-user.html"} {
		if code := get(t, h, "/transcripts/"+name, nil); code != http.StatusNotFound {
			t.Errorf("%s: status %d", name, code)
		}
	}
}

func TestTranscriptRequiresSignedToken(t *testing.T) {
	key := []byte("secret")
	h := newSignedServer(t, key)
	name := "general-0001-user.html"

	for _, path := range []string{
		"/transcripts/" + name,
		"/transcripts/" + name + "?token=" + transcript.Sign([]byte("other"), name),
		"/transcripts/" + name + "?token=" + transcript.Sign(key, "general-0002-user.html"),
		"/transcripts/" + name + "?token=not-hex",
	} {
		if code := get(t, h, path, nil); code != http.StatusNotFound {
			t.Errorf("%s: status %d", path, code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transcripts/"+name+"?token="+transcript.Sign(key, name), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("signed link: status %d", rec.Code)
	}
}
