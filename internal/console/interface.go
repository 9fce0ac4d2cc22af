package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"element-indexer/internal/config"
	"element-indexer/internal/entity"
	"element-indexer/internal/usecase"
	"element-indexer/pkg/logg"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Interface struct {
	config   *config.Config
	logger   *zap.Logger
	usecase  *usecase.Service
	ctx      context.Context
	cancel   context.CancelFunc
	sigChan  chan os.Signal
	stopping bool
}

type Params struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Usecase *usecase.Service
}

func NewInterface(params Params) *Interface {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	return &Interface{
		config:   params.Config,
		logger:   params.Logger.With(zap.String(logg.Layer, "Console")),
		usecase:  params.Usecase,
		ctx:      ctx,
		cancel:   cancel,
		sigChan:  sigChan,
		stopping: false,
	}
}

func (i *Interface) Start() error {
	i.printBanner()
	i.printHelp()

	signal.Notify(i.sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-i.sigChan
		fmt.Println("\n\n⚠️  Interrupt received, shutting down...")
		i.stopping = true
		i.Stop()
	}()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		if i.stopping {
			break
		}

		fmt.Print("\n> ")

		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())

		if input == "" {
			continue
		}

		if err := i.handleCommand(input); err != nil {
			if err.Error() == "exit" {
				break
			}

			i.logger.Error("Command error", zap.Error(err))
			fmt.Printf("Error: %v\n", err)
		}
	}

	return nil
}

func (i *Interface) Stop() error {
	if i.stopping {
		return nil
	}

	i.stopping = true
	i.logger.Info("Stopping console interface...")

	i.cancel()

	fmt.Println("👋 Goodbye!")
	os.Exit(0)

	return nil
}

func (i *Interface) handleCommand(input string) error {
	fields := strings.Fields(input)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "help", "h":
		i.printHelp()

		return nil
	case "exit", "quit", "q":
		fmt.Println("Shutting down...")

		return fmt.Errorf("exit")
	case "open":
		return i.cmdOpen(args)
	case "index":
		return i.cmdIndex()
	case "elements", "ls":
		return i.cmdElements()
	case "resolve":
		return i.cmdResolve(args)
	case "click":
		return i.cmdClick(args)
	case "fill":
		return i.cmdFill(args)
	case "find":
		return i.cmdFind(args)
	case "diagnose":
		return i.cmdDiagnose(args)
	case "invalidate":
		i.usecase.Engine.Invalidate()
		fmt.Println("Index and cache cleared.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s (try 'help')", command)
	}
}

func (i *Interface) cmdOpen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open <url>")
	}

	id, err := i.usecase.Interactions.Open(i.ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Page opened, generation %s\n", id)

	return nil
}

func (i *Interface) cmdIndex() error {
	id, err := i.usecase.Engine.BuildIndex(i.ctx)
	if err != nil {
		return err
	}

	gen := i.usecase.Engine.CurrentGeneration()
	fmt.Printf("Generation %s: %d interactable elements indexed\n", id, len(gen.Records))

	return nil
}

func (i *Interface) cmdElements() error {
	gen := i.usecase.Engine.CurrentGeneration()
	if gen == nil {
		return fmt.Errorf("no index yet, run 'open <url>' or 'index' first")
	}

	fmt.Printf("Generation %s (%s)\n\n", gen.ID, gen.Fingerprint)

	for _, rec := range gen.Records {
		kind := "clickable"
		if rec.Input {
			kind = "input"
		}

		text := rec.Text
		if len(text) > 60 {
			text = text[:60] + "..."
		}

		best := ""
		if len(rec.Selectors) > 0 {
			best = fmt.Sprintf("%s: %s", rec.Selectors[0].Kind, rec.Selectors[0].Value)
		}

		fmt.Printf("%3d. [%s/%s] %q | %s\n", rec.Handle, rec.Tag, kind, text, best)
	}

	return nil
}

func (i *Interface) cmdResolve(args []string) error {
	handle, err := parseHandle(args)
	if err != nil {
		return err
	}

	result, err := i.usecase.Engine.Resolve(i.ctx, handle)
	if err != nil {
		return err
	}

	i.printResolution(result)

	return nil
}

func (i *Interface) cmdClick(args []string) error {
	handle, err := parseHandle(args)
	if err != nil {
		return err
	}

	result, err := i.usecase.Interactions.Click(i.ctx, handle)
	if result != nil {
		i.printResolution(result)
	}

	if err != nil {
		return err
	}

	fmt.Println("✅ Clicked.")

	return nil
}

func (i *Interface) cmdFill(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: fill <handle> <text>")
	}

	handle, err := parseHandle(args[:1])
	if err != nil {
		return err
	}

	text := strings.Join(args[1:], " ")

	result, err := i.usecase.Interactions.Type(i.ctx, handle, text)
	if result != nil {
		i.printResolution(result)
	}

	if err != nil {
		return err
	}

	fmt.Println("✅ Filled.")

	return nil
}

func (i *Interface) cmdFind(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: find <text> | find role=<role> [name]")
	}

	query := entity.Query{}

	if strings.HasPrefix(args[0], "role=") {
		query.Role = strings.TrimPrefix(args[0], "role=")
		query.Name = strings.Join(args[1:], " ")
	} else {
		query.Text = strings.Join(args, " ")
	}

	result, err := i.usecase.Engine.ResolveByDescription(i.ctx, query)
	if err != nil {
		return err
	}

	i.printResolution(result)

	return nil
}

func (i *Interface) cmdDiagnose(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: diagnose <handle|selector>")
	}

	handle := 0
	rawSelector := ""

	if n, err := strconv.Atoi(args[0]); err == nil {
		handle = n
	} else {
		rawSelector = args[0]
	}

	report, err := i.usecase.Engine.Diagnose(i.ctx, handle, rawSelector)
	if err != nil {
		return err
	}

	fmt.Printf("Diagnostic report (handle %d, checked %s)\n", report.Handle, report.CheckedAt.Format("15:04:05"))

	for _, diag := range report.Selectors {
		status := "✗"
		if diag.MatchCount == 1 {
			status = "✓"
		}

		fmt.Printf("  %s [%s] %s | matches: %d, visible: %d\n",
			status, diag.Selector.Kind, diag.Selector.Value, diag.MatchCount, diag.VisibleCount)
	}

	if report.LastOutcome != "" {
		fmt.Printf("  last resolution: %s at %s\n", report.LastOutcome, report.LastResolvedAt.Format("15:04:05"))
	}

	return nil
}

func (i *Interface) printResolution(result *entity.ResolutionResult) {
	switch result.FinalOutcome {
	case entity.ResolutionSuccess:
		fmt.Printf("✅ Resolved handle %d via [%s] %s in %s (%d attempts)\n",
			result.Handle, result.SelectorUsed.Kind, result.SelectorUsed.Value,
			result.Elapsed, len(result.Attempts))
	default:
		fmt.Printf("❌ Resolution %s for handle %d after %d attempts (%s)\n",
			result.FinalOutcome, result.Handle, len(result.Attempts), result.Elapsed)
	}
}

func parseHandle(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("element handle required")
	}

	handle, err := strconv.Atoi(args[0])
	if err != nil || handle < 1 {
		return 0, fmt.Errorf("invalid handle: %s", args[0])
	}

	return handle, nil
}

func (i *Interface) printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║            🔍  Element Indexer  🌐                        ║
║                                                           ║
║   Interactive element indexing and selector resolution    ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
}

func (i *Interface) printHelp() {
	help := `
Available commands:
  open <url>           - Navigate and build the element index
  index                - Rebuild the index for the current page
  elements, ls         - List indexed elements with handles
  resolve <handle>     - Resolve a handle to a live element
  click <handle>       - Resolve and click
  fill <handle> <text> - Resolve and type text
  find <text>          - Resolve by visible text
  find role=<r> [name] - Resolve by ARIA role and accessible name
  diagnose <h|sel>     - Check every selector of a handle, or one raw selector
  invalidate           - Drop the index and all cached selectors
  help, h              - Show this help message
  exit, quit, q        - Exit
`
	fmt.Println(help)
}
