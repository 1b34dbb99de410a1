package stages

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jacobine-go/pipeline/internal/mqclient"
	"github.com/jacobine-go/pipeline/internal/processrunner"
)

func md5Hex(body string) string {
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

func sha1Hex(body string) string {
	sum := sha1.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

// fakeBroker records every Publish call a stage makes and returns
// publishErr (nil by default) from each one. It embeds mqclient.Broker so
// it satisfies the interface without stubbing the methods stage handlers
// never call through consumer.Deps.
type fakeBroker struct {
	mqclient.Broker
	published  []publishedMessage
	publishErr error
}

type publishedMessage struct {
	exchange   string
	routingKey string
	payload    any
}

func (f *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	f.published = append(f.published, publishedMessage{exchange: exchange, routingKey: routingKey, payload: payload})
	return f.publishErr
}

// fakeRunner replays scripted responses for a sequence of Run calls,
// keyed by binary name, so stage tests don't depend on real tar/git/
// phploc/pdepend/github-linguist binaries being on PATH.
type fakeRunner struct {
	responses map[string][]fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	result      *processrunner.Result
	err         error
	sideEffect  func(args []string)
}

type fakeCall struct {
	name string
	args []string
	dir  string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]fakeResponse)}
}

func (f *fakeRunner) stub(name string, result *processrunner.Result, err error) {
	f.responses[name] = append(f.responses[name], fakeResponse{result: result, err: err})
}

// stubWithSideEffect behaves like stub but also runs sideEffect with the
// invocation's args before returning, for stages that read their tool's
// output back off disk rather than from stdout.
func (f *fakeRunner) stubWithSideEffect(name string, result *processrunner.Result, err error, sideEffect func(args []string)) {
	f.responses[name] = append(f.responses[name], fakeResponse{result: result, err: err, sideEffect: sideEffect})
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, dir string, timeout time.Duration) (*processrunner.Result, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: args, dir: dir})
	queue := f.responses[name]
	if len(queue) == 0 {
		commandLine := strings.Join(append([]string{name}, args...), " ")
		return processrunner.NewResult(commandLine, 0, "", "", true), nil
	}
	next := queue[0]
	f.responses[name] = queue[1:]
	if next.sideEffect != nil {
		next.sideEffect(args)
	}
	return next.result, next.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
