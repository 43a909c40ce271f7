// Command gatewayctl drives the gateway control plane over HTTP.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/HanTheDev/tenant-edge-gateway/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}, Out: os.Stdout}

	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Control-plane CLI for the tenant edge gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cl.Token == "" {
				return fmt.Errorf("admin token missing (flag --token or env ADMIN_TOKEN)")
			}
			cl.Out = cmd.OutOrStdout()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cl.BaseURL, "url", envOr("GATEWAY_URL", "http://localhost:8080"), "gateway base URL (env GATEWAY_URL)")
	root.PersistentFlags().StringVar(&cl.Token, "token", os.Getenv("ADMIN_TOKEN"), "admin token (env ADMIN_TOKEN)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", "json", "output format: json|text")

	root.AddCommand(
		tenantsCmd(cl),
		apiKeyCmd(cl),
		idpCmd(cl),
		upstreamCmd(cl),
		routesCmd(cl),
		rateLimitCmd(cl),
		auditCmd(cl),
		seedCmd(cl),
	)
	return root
}

func run(cl *client, method, path string, payload any) error {
	body, err := cl.do(method, path, payload)
	if err != nil {
		return err
	}
	cl.print(body)
	return nil
}

func tenantsCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "tenants", Short: "List, inspect and create tenants"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenant ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodGet, "/tenants", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show a tenant record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodGet, "/tenants/"+args[0], nil)
		},
	})

	var name, upstream string
	var routes []string
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPost, "/tenants", map[string]any{
				"id":              args[0],
				"name":            name,
				"upstreamBaseUrl": upstream,
				"allowedRoutes":   parseRoutes(routes),
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&upstream, "upstream", "", "upstream base URL")
	create.Flags().StringSliceVar(&routes, "route", nil, "allowed route prefix, repeatable; suffix with :nojwt to skip JWT")
	cmd.AddCommand(create)

	return cmd
}

func apiKeyCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage tenant API keys"}
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate <id>",
		Short: "Issue a new API key and revoke the previous one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPost, "/tenants/"+args[0]+"/apikey", nil)
		},
	})
	return cmd
}

func idpCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "idp", Short: "Configure tenant identity providers"}

	var idp models.IdP
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Set issuer, JWKS URI and audience",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPut, "/tenants/"+args[0]+"/idp", idp)
		},
	}
	set.Flags().StringVar(&idp.Issuer, "issuer", "", "expected iss claim")
	set.Flags().StringVar(&idp.JWKSURI, "jwks-uri", "", "JWKS endpoint")
	set.Flags().StringVar(&idp.Audience, "audience", "", "expected aud claim")
	_ = set.MarkFlagRequired("jwks-uri")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Disable JWT verification for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodDelete, "/tenants/"+args[0]+"/idp", nil)
		},
	})
	return cmd
}

func upstreamCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "upstream", Short: "Configure tenant upstreams"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <id> <url>",
		Short: "Point a tenant at a new upstream base URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPut, "/tenants/"+args[0]+"/upstream", map[string]string{"upstreamBaseUrl": args[1]})
		},
	})
	return cmd
}

func routesCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "routes", Short: "Configure tenant allowed routes"}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <id> [route...]",
		Short: "Replace the allowed route list; suffix a route with :nojwt to skip JWT",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPut, "/tenants/"+args[0]+"/routes", map[string]any{"allowedRoutes": parseRoutes(args[1:])})
		},
	})
	return cmd
}

func rateLimitCmd(cl *client) *cobra.Command {
	cmd := &cobra.Command{Use: "ratelimit", Short: "Configure tenant rate limits"}

	var rl models.RateLimit
	set := &cobra.Command{
		Use:   "set <id>",
		Short: "Set fixed-window rate limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cl, http.MethodPut, "/tenants/"+args[0]+"/ratelimit", rl)
		},
	}
	set.Flags().Int64Var(&rl.WindowSeconds, "window", models.DefaultWindowSeconds, "window length in seconds")
	set.Flags().Int64Var(&rl.MaxRequests, "max", models.DefaultMaxRequests, "requests allowed per window")
	cmd.AddCommand(set)
	return cmd
}

func auditCmd(cl *client) *cobra.Command {
	var tenantID string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/audit?limit=%d", limit)
			if tenantID != "" {
				path += "&tenantId=" + tenantID
			}
			return run(cl, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "filter by tenant id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events")
	return cmd
}

func seedCmd(cl *client) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Create or update tenants from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadSeed(args[0])
			if err != nil {
				return err
			}
			return applySeed(cl, f)
		},
	}
}

// parseRoutes turns "/orders" and "/health:nojwt" into route records.
func parseRoutes(raw []string) []models.Route {
	routes := make([]models.Route, 0, len(raw))
	for _, r := range raw {
		if p, ok := strings.CutSuffix(r, ":nojwt"); ok {
			routes = append(routes, models.Route{Path: p, Auth: &models.RouteAuth{JWT: models.Bool(false)}})
			continue
		}
		routes = append(routes, models.Route{Path: r})
	}
	return routes
}
