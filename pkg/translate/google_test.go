package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	translator "github.com/Conight/go-googletrans"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/dasmlab/transgate/pkg/retry"
)

type engineCall struct {
	origin, src, dest string
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
	fn    func(origin, src, dest string) (*translator.Translated, error)
}

func (f *fakeEngine) Translate(origin, src, dest string) (*translator.Translated, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{origin, src, dest})
	f.mu.Unlock()
	return f.fn(origin, src, dest)
}

func newTestGoogleClient(t *testing.T, cfg Config, engine *fakeEngine) (*GoogleClient, *[]translator.Config) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	client := NewGoogleClient(cfg, logger)

	var built []translator.Config
	client.newEngine = func(c translator.Config) googleEngine {
		built = append(built, c)
		return engine
	}
	return client, &built
}

func TestGoogleClientTranslateMapsLanguageCodes(t *testing.T) {
	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		return &translator.Translated{Src: "zh-TW", Dest: dest, Origin: origin, Text: "Hello"}, nil
	}}
	client, _ := newTestGoogleClient(t, Config{}, engine)

	got, err := client.Translate(context.Background(), "你好", "zh_Hant", "EN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "Hello" || got.Source != "zh-tw" {
		t.Fatalf("unexpected translation: %+v", got)
	}

	want := engineCall{origin: "你好", src: "zh-tw", dest: "en"}
	if len(engine.calls) != 1 || engine.calls[0] != want {
		t.Fatalf("unexpected engine calls: %+v", engine.calls)
	}
}

// echoEngine answers like the googletrans client does: Src is the requested
// source, never the language the upstream detected.
func echoEngine(text string) *fakeEngine {
	return &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		return &translator.Translated{Src: src, Dest: dest, Origin: origin, Text: text}, nil
	}}
}

func TestGoogleClientTranslateDefaultsEmptySourceToAuto(t *testing.T) {
	engine := echoEngine("Hello, how are you today? I would like a coffee, please.")
	client, _ := newTestGoogleClient(t, Config{}, engine)

	got, err := client.Translate(context.Background(), "Hola, ¿cómo estás hoy? Me gustaría tomar un café, por favor.", "", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.calls[0].src != AutoLanguage {
		t.Fatalf("expected auto source, got %q", engine.calls[0].src)
	}
	if got.Source != "es" {
		t.Fatalf("unexpected detected source: %q", got.Source)
	}
}

func TestGoogleClientBuildsFreshEngineForEveryCall(t *testing.T) {
	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		return &translator.Translated{Src: "en", Text: origin}, nil
	}}
	cfg := Config{
		ServiceURLs: []string{"translate.google.de", " "},
		Proxy:       "http://proxy.local:3128",
	}
	client, built := newTestGoogleClient(t, cfg, engine)

	for i := 0; i < 3; i++ {
		if _, err := client.Translate(context.Background(), "text", "auto", "fr"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(*built) != 3 {
		t.Fatalf("expected 3 engines, got %d", len(*built))
	}
	first := (*built)[0]
	if len(first.ServiceUrls) != 1 || first.ServiceUrls[0] != "translate.google.de" {
		t.Fatalf("unexpected service urls: %v", first.ServiceUrls)
	}
	if first.Proxy != "http://proxy.local:3128" {
		t.Fatalf("unexpected proxy: %q", first.Proxy)
	}
}

func TestGoogleClientTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		<-release
		return &translator.Translated{Src: "en", Text: origin}, nil
	}}
	client, _ := newTestGoogleClient(t, Config{Timeout: 20 * time.Millisecond}, engine)

	_, err := client.Translate(context.Background(), "slow", "auto", "fr")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !retry.IsTransient(err) {
		t.Fatalf("timeout should be transient: %v", err)
	}
}

func TestGoogleClientHonorsContextCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		<-release
		return nil, errors.New("unreachable")
	}}
	client, _ := newTestGoogleClient(t, Config{Timeout: time.Minute}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Detect(ctx, "Bonjour")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGoogleClientKeepsUpstreamErrorText(t *testing.T) {
	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		return nil, errors.New("_ssl.c:980: The handshake operation timed out")
	}}
	client, _ := newTestGoogleClient(t, Config{}, engine)

	_, err := client.Translate(context.Background(), "Hola", "es", "en")
	if err == nil || !strings.Contains(err.Error(), "The handshake operation timed out") {
		t.Fatalf("upstream error text was lost: %v", err)
	}
}

func TestGoogleClientTranslateKeepsAutoWhenNothingIsDetected(t *testing.T) {
	client, _ := newTestGoogleClient(t, Config{}, echoEngine("???"))

	got, err := client.Translate(context.Background(), "???", "auto", "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Source != AutoLanguage {
		t.Fatalf("expected auto source, got %q", got.Source)
	}
}

func TestGoogleClientDetectUsesLocalDetectorWhenEngineEchoesAuto(t *testing.T) {
	engine := echoEngine("The cat is sitting on the mat.")
	client, _ := newTestGoogleClient(t, Config{}, engine)

	got, err := client.Detect(context.Background(), "Le chat est assis sur le tapis et regarde tranquillement par la fenêtre ouverte.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Language != "fr" {
		t.Fatalf("unexpected language: %q", got.Language)
	}
	if got.Confidence <= 0 || got.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", got.Confidence)
	}
	if len(engine.calls) != 1 || engine.calls[0].src != AutoLanguage {
		t.Fatalf("unexpected engine calls: %+v", engine.calls)
	}
}

func TestGoogleClientDetectPrefersEngineReportedLanguage(t *testing.T) {
	engine := &fakeEngine{fn: func(origin, src, dest string) (*translator.Translated, error) {
		return &translator.Translated{Src: "XX", Text: origin}, nil
	}}
	client, _ := newTestGoogleClient(t, Config{}, engine)

	got, err := client.Detect(context.Background(), "something")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Language != "xx" {
		t.Fatalf("unexpected language: %q", got.Language)
	}
	if got.Confidence != 0 {
		t.Fatalf("unknown languages should score 0, got %v", got.Confidence)
	}

	want := engineCall{origin: "something", src: AutoLanguage, dest: detectTarget}
	if engine.calls[0] != want {
		t.Fatalf("unexpected engine call: %+v", engine.calls[0])
	}
}

func TestGoogleClientDetectRequiresALanguage(t *testing.T) {
	client, _ := newTestGoogleClient(t, Config{}, echoEngine("???"))

	if _, err := client.Detect(context.Background(), "???"); err == nil {
		t.Fatalf("expected an error when no language is detected")
	}
}

// newFakeGoogle serves the two endpoints the googletrans client talks to:
// the page carrying the token seed and the translate_a/single API.
func newFakeGoogle(t *testing.T, translated string) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var (
		mu      sync.Mutex
		queries []url.Values
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/translate_a/single", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"sentences":[{"trans":%q,"orig":%q,"backend":1}],"src":"fr"}`,
			translated, r.URL.Query().Get("q"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><script>window.TKK=tkk:'448487.932609646';</script></html>`))
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv, &queries
}

func TestGoogleClientAgainstHTTPUpstream(t *testing.T) {
	srv, queries := newFakeGoogle(t, "The cat is sitting on the mat.")
	logger, _ := logtest.NewNullLogger()
	client := NewGoogleClient(Config{
		ServiceURLs: []string{strings.TrimPrefix(srv.URL, "https://")},
		Timeout:     5 * time.Second,
	}, logger)

	text := "Le chat est assis sur le tapis et regarde tranquillement par la fenêtre ouverte."

	got, err := client.Translate(context.Background(), text, "auto", "en")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Text != "The cat is sitting on the mat." || got.Source != "fr" {
		t.Fatalf("unexpected translation: %+v", got)
	}

	detection, err := client.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if detection.Language != "fr" || detection.Confidence <= 0 {
		t.Fatalf("unexpected detection: %+v", detection)
	}

	if len(*queries) != 2 {
		t.Fatalf("expected 2 upstream requests, got %d", len(*queries))
	}
	for _, q := range *queries {
		if q.Get("sl") != AutoLanguage || q.Get("tl") != "en" || q.Get("q") != text {
			t.Fatalf("unexpected upstream query: %v", q)
		}
	}
}

func TestGoogleClientReportsUpstreamStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	logger, _ := logtest.NewNullLogger()
	client := NewGoogleClient(Config{ServiceURLs: []string{strings.TrimPrefix(srv.URL, "https://")}}, logger)

	_, err := client.Detect(context.Background(), "Bonjour tout le monde")
	if err == nil || !strings.Contains(err.Error(), "got: 429") {
		t.Fatalf("expected a 429 error, got %v", err)
	}
}
