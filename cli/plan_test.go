package cli

import (
	"errors"
	"testing"

	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"github.com/spf13/pflag"
)

func newPlanFlags(t *testing.T, args ...string) (*pflag.FlagSet, *planOpts) {
	t.Helper()
	var o planOpts
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs, &o
}

// scriptedPrompt answers prompts in order and records the labels it saw.
func scriptedPrompt(answers ...string) (promptFunc, *[]string) {
	var labels []string
	return func(label, def string) (string, error) {
		labels = append(labels, label)
		if len(answers) == 0 {
			return def, nil
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}, &labels
}

func TestResolvePlanFromFlags(t *testing.T) {
	fs, o := newPlanFlags(t, "--udp", "5", "--tcp", "5", "--size", "1M")
	prompt, labels := scriptedPrompt()
	plan, err := resolvePlan(fs, o, prompt)
	if err != nil {
		t.Fatalf("resolvePlan: %v", err)
	}
	want := speedclient.TestPlan{UDPRequests: 5, TCPRequests: 5, PayloadSize: 1 << 20}
	if plan != want {
		t.Fatalf("got %+v want %+v", plan, want)
	}
	if len(*labels) != 0 {
		t.Fatalf("expected no prompts, got %v", *labels)
	}
}

func TestResolvePlanFlagsBeatPlanFile(t *testing.T) {
	path := writePlan(t, "plan.yaml", "udp_requests: 7\ntcp_requests: 2\npayload_size: 4K\n")
	fs, o := newPlanFlags(t, "--udp", "1", "--plan-file", path)
	plan, err := resolvePlan(fs, o, nil)
	if err != nil {
		t.Fatalf("resolvePlan: %v", err)
	}
	want := speedclient.TestPlan{UDPRequests: 1, TCPRequests: 2, PayloadSize: 4096}
	if plan != want {
		t.Fatalf("got %+v want %+v", plan, want)
	}
}

func TestResolvePlanPromptsForMissing(t *testing.T) {
	path := writePlan(t, "plan.json", `{"tcp_requests": 4}`)
	fs, o := newPlanFlags(t, "--plan-file", path)
	prompt, labels := scriptedPrompt("3", "2048")
	plan, err := resolvePlan(fs, o, prompt)
	if err != nil {
		t.Fatalf("resolvePlan: %v", err)
	}
	want := speedclient.TestPlan{UDPRequests: 3, TCPRequests: 4, PayloadSize: 2048}
	if plan != want {
		t.Fatalf("got %+v want %+v", plan, want)
	}
	if len(*labels) != 2 {
		t.Fatalf("expected 2 prompts, got %v", *labels)
	}
}

func TestResolvePlanPromptDefaults(t *testing.T) {
	fs, o := newPlanFlags(t)
	prompt, _ := scriptedPrompt("1", "0")
	plan, err := resolvePlan(fs, o, prompt)
	if err != nil {
		t.Fatalf("resolvePlan: %v", err)
	}
	if plan.UDPRequests != 1 || plan.TCPRequests != 0 || plan.PayloadSize != 1<<20 {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestResolvePlanErrors(t *testing.T) {
	fs, o := newPlanFlags(t, "--size", "huge")
	if _, err := resolvePlan(fs, o, nil); err == nil {
		t.Fatalf("expected error for bad --size")
	}

	fs, o = newPlanFlags(t, "--udp", "1", "--tcp", "1")
	if _, err := resolvePlan(fs, o, nil); !errors.Is(err, speedclient.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan without a size, got %v", err)
	}

	fs, o = newPlanFlags(t, "--udp", "-2", "--tcp", "1", "--size", "10")
	if _, err := resolvePlan(fs, o, nil); !errors.Is(err, speedclient.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan for negative count, got %v", err)
	}

	fs, o = newPlanFlags(t)
	prompt, _ := scriptedPrompt("many")
	if _, err := resolvePlan(fs, o, prompt); err == nil {
		t.Fatalf("expected error for non-numeric prompt answer")
	}

	fs, o = newPlanFlags(t)
	failing := func(label, def string) (string, error) { return "", errors.New("no tty") }
	if _, err := resolvePlan(fs, o, failing); err == nil {
		t.Fatalf("expected prompt error to surface")
	}
}
