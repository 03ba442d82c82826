package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"creatorsync/pkg/auth"
	"creatorsync/pkg/ui"
)

var authPlatform string

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage platform credentials",
	Long: `Manage stored platform credentials securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (backward compatibility)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store platform credentials securely",
	Long: `Store platform credentials securely in the system keychain or an
encrypted file.

You will be prompted for:
  - Session token (from the sess cookie)
  - Auth ID (from the auth_id cookie)
  - Security token (from the x-bc header)
  - User agent (the browser's, press Enter for default)

To get these values:
1. Log into the platform in your browser
2. Open Developer Tools (F12)
3. Go to Application/Storage > Cookies for the cookie values
4. Copy the x-bc value from any request's headers`,
	Example: `  # Interactive login
  creatorsync auth login

  # Store credentials for a specific platform
  creatorsync auth login --platform fansly`,
	Args: cobra.NoArgs,
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  `Remove stored credentials for a platform.`,
	Example: `  # Remove the default platform's credentials
  creatorsync auth logout

  # Remove Fansly credentials
  creatorsync auth logout --platform fansly`,
	Args: cobra.NoArgs,
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential sets",
	Long:  `List stored credential sets with sanitized values.`,
	Run:   runList,
}

// testCmd represents the auth test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Verify stored credentials against the platform",
	Long: `Verify stored credentials by fetching the authenticated account.

A successful check prints the account the session belongs to. A failed
check means the session has expired and needs a fresh login.`,
	Run: runAuthTest,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(testCmd)

	authCmd.PersistentFlags().StringVar(&authPlatform, "platform", string(auth.PlatformOnlyFans), "credential platform (onlyfans, fansly)")
}

func selectedPlatform() (auth.Platform, error) {
	platform := auth.Platform(strings.ToLower(authPlatform))
	switch platform {
	case auth.PlatformOnlyFans, auth.PlatformFansly:
		return platform, nil
	default:
		return "", fmt.Errorf("unknown platform %q", authPlatform)
	}
}

func runLogin(cmd *cobra.Command, args []string) {
	platform, err := selectedPlatform()
	if err != nil {
		ui.PrintError("Login failed", err.Error())
		os.Exit(1)
	}

	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)

	session, err := promptSecret("Session token (sess cookie)")
	if err != nil || session == "" {
		ui.PrintError("Login failed", "session token is required")
		os.Exit(1)
	}
	authID := promptLine(reader, "Auth ID (auth_id cookie)")
	if authID == "" {
		ui.PrintError("Login failed", "auth id is required")
		os.Exit(1)
	}
	headerToken, err := promptSecret("Security token (x-bc header)")
	if err != nil {
		ui.PrintError("Login failed", err.Error())
		os.Exit(1)
	}
	userAgent := promptLine(reader, "User agent (Enter for default)")
	authUID := promptLine(reader, "Auth UID (Enter to skip, 2FA accounts only)")

	creds := &auth.Credentials{
		Platform:     platform,
		Session:      session,
		AuthID:       authID,
		AuthUID:      authUID,
		UserAgent:    userAgent,
		HeaderToken:  headerToken,
		LastModified: time.Now(),
	}
	if err := manager.Store(creds); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Credentials stored for %s", platform))
}

func runLogout(cmd *cobra.Command, args []string) {
	platform, err := selectedPlatform()
	if err != nil {
		ui.PrintError("Logout failed", err.Error())
		os.Exit(1)
	}

	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}
	if !manager.Exists(platform) {
		ui.PrintWarning("No stored credentials for " + string(platform))
		return
	}
	if err := manager.Delete(platform); err != nil {
		ui.PrintError("Failed to remove credentials", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Credentials removed for %s", platform))
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	found := false
	for _, platform := range []auth.Platform{auth.PlatformOnlyFans, auth.PlatformFansly} {
		creds, err := manager.Retrieve(platform)
		if err != nil {
			continue
		}
		found = true
		ui.PrintInfo("Platform", string(platform))
		ui.PrintInfo("  Auth ID", creds.AuthID)
		ui.PrintInfo("  Session", sanitize(creds.Session))
		if !creds.LastModified.IsZero() {
			ui.PrintInfo("  Stored", creds.LastModified.Format(time.RFC1123))
		}
	}
	if !found {
		ui.PrintWarning("No stored credentials", "run 'creatorsync auth login'")
	}
}

func runAuthTest(cmd *cobra.Command, args []string) {
	flags := map[string]interface{}{"platform": authPlatform}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	rt, err := newRuntime(flags)
	if err != nil {
		ui.PrintError("Auth check failed", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, err := rt.engine.CheckAuth(ctx)
	if err != nil {
		ui.PrintError("Session check failed", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Session valid for %s (id %d)", account.Username, account.ID))
}

func promptLine(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(value)), nil
}

func sanitize(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
