package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jgoldverg/gspeed/pkg/speedclient"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
)

// planOpts holds the plan flags of the client command.
type planOpts struct {
	udp      int
	tcp      int
	size     string
	planFile string
}

// planFields tracks which plan fields have a value so far.
type planFields struct {
	udp  bool
	tcp  bool
	size bool
}

func (h planFields) complete() bool {
	return h.udp && h.tcp && h.size
}

// promptFunc asks the operator for one value, offering def as the default.
type promptFunc func(label, def string) (string, error)

func ptermPrompt(label, def string) (string, error) {
	return pterm.DefaultInteractiveTextInput.WithDefaultValue(def).Show(label)
}

func (o *planOpts) register(fs *pflag.FlagSet) {
	fs.IntVar(&o.udp, "udp", 0, "Number of concurrent UDP transfers")
	fs.IntVar(&o.tcp, "tcp", 0, "Number of concurrent TCP transfers")
	fs.StringVar(&o.size, "size", "", "Payload size per transfer, e.g. 2048, 64K, 10M")
	fs.StringVar(&o.planFile, "plan-file", "", "Read the test plan from a YAML, JSON or TOML file")
}

// resolvePlan builds a TestPlan from flags first, then the plan file, then
// interactive prompts for whatever is still missing. prompt may be nil, in
// which case missing fields default to zero transfers and the plan is
// validated as is.
func resolvePlan(fs *pflag.FlagSet, o *planOpts, prompt promptFunc) (speedclient.TestPlan, error) {
	var plan speedclient.TestPlan
	var have planFields

	if fs.Changed("udp") {
		plan.UDPRequests, have.udp = o.udp, true
	}
	if fs.Changed("tcp") {
		plan.TCPRequests, have.tcp = o.tcp, true
	}
	if fs.Changed("size") {
		n, err := parseSize(o.size)
		if err != nil {
			return plan, fmt.Errorf("--size: %w", err)
		}
		plan.PayloadSize, have.size = n, true
	}

	if path := strings.TrimSpace(o.planFile); path != "" && !have.complete() {
		doc, err := loadPlanDocument(path)
		if err != nil {
			return plan, err
		}
		doc.applyTo(&plan, &have)
	}

	if !have.complete() && prompt != nil {
		if err := promptPlan(&plan, &have, prompt); err != nil {
			return plan, err
		}
	}

	if err := plan.Validate(); err != nil {
		return plan, err
	}
	return plan, nil
}

func promptPlan(plan *speedclient.TestPlan, have *planFields, prompt promptFunc) error {
	if !have.udp {
		n, err := promptCount(prompt, "Number of UDP transfers", plan.UDPRequests)
		if err != nil {
			return err
		}
		plan.UDPRequests, have.udp = n, true
	}
	if !have.tcp {
		n, err := promptCount(prompt, "Number of TCP transfers", plan.TCPRequests)
		if err != nil {
			return err
		}
		plan.TCPRequests, have.tcp = n, true
	}
	if !have.size {
		def := "1M"
		if plan.PayloadSize > 0 {
			def = strconv.FormatUint(plan.PayloadSize, 10)
		}
		raw, err := prompt("Payload size per transfer", def)
		if err != nil {
			return fmt.Errorf("read payload size: %w", err)
		}
		n, err := parseSize(raw)
		if err != nil {
			return fmt.Errorf("payload size: %w", err)
		}
		plan.PayloadSize, have.size = n, true
	}
	return nil
}

func promptCount(prompt promptFunc, label string, def int) (int, error) {
	raw, err := prompt(label, strconv.Itoa(def))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", strings.ToLower(label), raw)
	}
	return n, nil
}
