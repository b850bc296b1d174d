package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/detect"
	"github.com/atakdnz/fridge-order-agent/internal/llm"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
	"github.com/atakdnz/fridge-order-agent/internal/order"
	"github.com/atakdnz/fridge-order-agent/internal/policy"
	"github.com/atakdnz/fridge-order-agent/internal/server"
	"github.com/atakdnz/fridge-order-agent/internal/store"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	providerFlag string
	modeFlag     string
	preference   string
	limitFlag    int

	// Loaded in PersistentPreRunE
	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fridge",
	Short: "Fridge Order Agent - automated grocery reordering",
	Long: `Fridge Order Agent detects missing groceries and reorders them through
Turkish online storefronts (Getir, Migros, Akbal Market) by driving a real
browser. An LLM picks the best product among the search results; the cart is
filled automatically and checkout stays manual.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		if err := logging.Initialize(cfg.Workspace, cfg.Logging.Debug || verbose); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loginCmd opens the storefront for manual login and saves the session
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to a storefront and save the session",
	Long: `Opens the storefront in a visible browser window so you can complete the
phone/SMS or credential login, then verifies the login and persists cookies
and web storage for future runs.`,
	RunE: runLogin,
}

// orderCmd fills the cart with missing products
var orderCmd = &cobra.Command{
	Use:   "order [image]",
	Short: "Detect missing products and add them to the cart",
	Long: `Computes the shopping list (from a fridge image when given, otherwise the
static test list), adds each item to the cart, and opens the cart page.
Checkout is yours: press Enter in the terminal when you are done.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOrder,
}

// detectCmd prints the shopping list without ordering
var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Detect missing items from a fridge image (no ordering)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDetect,
}

// cartCmd shows the current cart status
var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show the current cart item count",
	RunE:  runCart,
}

// testCmd is a dry run with the static product list
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Dry run: show what would be ordered",
	RunE:  runTest,
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

// historyCmd lists stored fridge snapshots
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored fridge snapshots, newest first",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "Storefront: getir, migros, or akbal (default from preferences)")

	orderCmd.Flags().StringVar(&modeFlag, "mode", "", "Selection mode: smart (LLM) or simple (first result)")
	orderCmd.Flags().StringVar(&preference, "preference", "cheapest", "Selection preference passed to the LLM")
	historyCmd.Flags().IntVar(&limitFlag, "limit", 30, "Maximum snapshots to list")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore() (*store.Store, error) {
	return store.Open(cfg.Storage.DatabasePath)
}

// buildEngine wires the policy engine; without an API key it still works and
// always picks the first result.
func buildEngine() *policy.Engine {
	if cfg.LLM.APIKey == "" {
		logger.Warn("OPENROUTER_API_KEY not set, smart selection will use the first result")
		return policy.New(nil)
	}
	client := llm.NewOpenRouterClient(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		Timeout:   cfg.LLM.TimeoutDuration(),
		MaxTokens: cfg.LLM.MaxTokens,
		SiteURL:   cfg.LLM.SiteURL,
		SiteName:  cfg.LLM.SiteName,
	})
	return policy.New(client)
}

func resolveProvider(st *store.Store) (catalog.Provider, error) {
	name := providerFlag
	if name == "" {
		prefs, err := st.GetPreferences()
		if err != nil {
			return "", err
		}
		name = prefs.PreferredProvider
	}
	return catalog.ParseProvider(name)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	provider, err := resolveProvider(st)
	if err != nil {
		return err
	}
	if provider == catalog.ProviderAkbal {
		fmt.Println("Akbal Market requires no login.")
		return nil
	}

	// Login needs a visible window regardless of config.
	cfg.Browser.Headless = false

	adapter, err := catalog.New(provider, cfg, nil, nil)
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	sessioned, ok := adapter.(catalog.Sessioned)
	if !ok {
		return fmt.Errorf("%s does not support sessions", provider)
	}

	if adapter.IsAuthenticated(ctx) {
		fmt.Println("Already logged in, refreshing saved session.")
		return sessioned.SaveSession(ctx)
	}

	if err := sessioned.OpenLogin(ctx); err != nil {
		return err
	}
	fmt.Println("Complete the login in the browser window:")
	fmt.Println("  1. Enter your phone number or credentials")
	fmt.Println("  2. Finish SMS verification")
	fmt.Println("  3. Select your delivery address")
	if err := waitForEnter(ctx, ">>> Press ENTER after completing login: "); err != nil {
		return err
	}

	if !adapter.IsAuthenticated(ctx) {
		return errors.New("login verification failed, please try again")
	}
	if err := sessioned.SaveSession(ctx); err != nil {
		return err
	}
	fmt.Println("Login successful, session saved.")
	return nil
}

func runOrder(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	prefs, err := st.GetPreferences()
	if err != nil {
		return err
	}
	provider, err := resolveProvider(st)
	if err != nil {
		return err
	}
	mode := modeFlag
	if mode == "" {
		mode = prefs.DefaultMode
	}
	if mode != "smart" && mode != "simple" {
		return fmt.Errorf("invalid mode %q, want smart or simple", mode)
	}

	imagePath := ""
	if len(args) == 1 {
		imagePath = args[0]
	}
	items, err := detect.NewService(nil).MissingProducts(ctx, imagePath, prefs.DetectionThreshold)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No missing products detected.")
		return nil
	}

	fmt.Printf("Products to order (%d):\n", len(items))
	for _, item := range items {
		fmt.Printf("  - %s x%d\n", item.SearchTerm, item.Quantity)
	}

	engine := buildEngine()
	engine.SetInstructions(prefs.CustomInstructions)

	adapter, err := catalog.New(provider, cfg, engine, st)
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	orch := order.New(adapter)
	orch.OnAwaitConfirm = func() {
		fmt.Println("\nBrowser is on the cart page - complete your order!")
		fmt.Print(">>> Press ENTER when you are done: ")
	}

	// Stdin Enter resumes the run once it suspends on the cart page.
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			orch.ConfirmCheckout()
		}
	}()

	logger.Info("Starting order run",
		zap.String("provider", string(provider)),
		zap.String("mode", mode),
		zap.Int("items", len(items)))

	results, err := orch.Run(ctx, items, mode == "smart", preference)
	if err != nil {
		return err
	}

	added := 0
	for _, r := range results {
		mark := "x"
		if r.Added {
			mark = "+"
			added++
		}
		fmt.Printf("  %s %s x%d %s\n", mark, r.Item.SearchTerm, r.Item.Quantity, r.Detail)
	}
	fmt.Printf("Added %d/%d products to cart.\n", added, len(results))
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	prefs, err := st.GetPreferences()
	if err != nil {
		return err
	}

	items, err := detect.NewService(nil).MissingProducts(ctx, args[0], prefs.DetectionThreshold)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("All expected items are present in the fridge.")
		return nil
	}
	fmt.Printf("Missing products (%d):\n", len(items))
	for _, item := range items {
		fmt.Printf("  - %s x%d [%s]\n", item.SearchTerm, item.Quantity, item.Category)
	}
	fmt.Println("\nRun 'fridge order <image>' to order these items.")
	return nil
}

func runCart(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	provider, err := resolveProvider(st)
	if err != nil {
		return err
	}
	adapter, err := catalog.New(provider, cfg, nil, nil)
	if err != nil {
		return err
	}
	if err := adapter.Start(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	if !adapter.IsAuthenticated(ctx) {
		return order.ErrNotAuthenticated
	}
	fmt.Printf("Items in cart: %d\n", adapter.CartCount(ctx))
	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	items := detect.TestProducts()
	fmt.Printf("Test products (%d):\n", len(items))
	for _, item := range items {
		fmt.Printf("  - %s x%d [%s]\n", item.SearchTerm, item.Quantity, item.Category)
	}
	fmt.Println("\nDry run complete. Use 'fridge order' to actually order.")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	engine := buildEngine()
	srv := server.New(cfg, st, engine, detect.NewService(nil))

	logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.GetHistory(limitFlag)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No fridge history yet.")
		return nil
	}
	fmt.Println(st.HistoryContext(limitFlag))
	return nil
}

func waitForEnter(ctx context.Context, prompt string) error {
	fmt.Print(prompt)
	done := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
