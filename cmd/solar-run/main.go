package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awaistahir/solar-run/internal/app"
	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/logging"
	"github.com/awaistahir/solar-run/internal/planner"
	"github.com/awaistahir/solar-run/internal/store"
)

var version = "dev"

const dateLayout = "2006-01-02"

var (
	cfgFile string
	dbPath  string
	output  string
	verbose bool

	cfg config.Config
	log *logging.Logger
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "solar-run",
		Short: "Solar Run - run household appliances when the sun is shining",
		Long: `Solar Run forecasts rooftop PV production from the weather and schedules
your appliances into the sunniest parts of the day.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.solarrun/config.yaml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default is $HOME/.solarrun/solarrun.db)")
	root.PersistentFlags().StringVarP(&output, "output", "o", formatTable, "output format: table, json or yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(siteCmd())
	root.AddCommand(applianceCmd())
	root.AddCommand(forecastCmd())
	root.AddCommand(planCmd())
	root.AddCommand(outlookCmd())

	return root
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if err := validFormat(output); err != nil {
		return err
	}

	loaded, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}
	if dbPath != "" {
		loaded.Database.Path = dbPath
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	// stdout carries the command output
	loaded.Logging.Output = "stderr"

	cfg = loaded
	log = logging.New(cfg.Logging, "solar-run", version)
	return nil
}

// withApp opens the configured resources for the duration of fn
func withApp(fn func(a *app.App) error) error {
	a, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("closing resources", "error", closeErr)
		}
	}()
	return fn(a)
}

func parseDate(s string) (time.Time, error) {
	zone, err := cfg.Site.Zone()
	if err != nil {
		return time.Time{}, err
	}
	if s == "" || s == "today" {
		return time.Now().In(zone), nil
	}
	if s == "tomorrow" {
		return time.Now().In(zone).AddDate(0, 0, 1), nil
	}
	d, err := time.ParseInLocation(dateLayout, s, zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format (use YYYY-MM-DD, today or tomorrow): %w", err)
	}
	return d, nil
}

func initCmd() *cobra.Command {
	var noAppliances bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Store the configured site and the default appliances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				site, err := a.Seed(!noAppliances)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "✓ Initialized site")
				fmt.Fprintf(out, "  Location: %.4f, %.4f\n", site.Location.Latitude, site.Location.Longitude)
				fmt.Fprintf(out, "  Array:    %d x %.0f W (%.1f kW)\n", site.Panel.PanelCount, site.Panel.WattsPerPanel, site.Panel.CapacityKW())
				fmt.Fprintf(out, "Database: %s\n", cfg.Database.Path)
				fmt.Fprintln(out, "\nNext steps:")
				fmt.Fprintln(out, "  1. Adjust the array:  solar-run site set --panels 16")
				fmt.Fprintln(out, "  2. Add appliances:    solar-run appliance add --name Kettle --power 2 --duration 0.1")
				fmt.Fprintln(out, "  3. Generate plan:     solar-run plan")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&noAppliances, "no-appliances", false, "only store the site")
	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Show or change the PV installation",
	}
	cmd.AddCommand(siteShowCmd())
	cmd.AddCommand(siteSetCmd())
	return cmd
}

func siteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored site",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				site, err := a.Store.GetSite()
				if err != nil {
					return fmt.Errorf("%w (run 'solar-run init' first)", err)
				}
				return render(cmd.OutOrStdout(), output, site, func(w io.Writer) { siteTable(w, site) })
			})
		},
	}
}

func siteTable(w io.Writer, site store.Site) {
	p := site.Panel
	fmt.Fprintf(w, "LATITUDE\t%.4f\n", site.Location.Latitude)
	fmt.Fprintf(w, "LONGITUDE\t%.4f\n", site.Location.Longitude)
	fmt.Fprintf(w, "PANELS\t%d x %.0f W\n", p.PanelCount, p.WattsPerPanel)
	fmt.Fprintf(w, "CAPACITY\t%.2f kW\n", p.CapacityKW())
	fmt.Fprintf(w, "EFFICIENCY\t%s\n", pct(p.Efficiency))
	fmt.Fprintf(w, "TILT\t%.0f°\n", p.TiltDeg)
	fmt.Fprintf(w, "AZIMUTH\t%.0f°\n", p.AzimuthDeg)
	if !site.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "UPDATED\t%s\n", site.UpdatedAt.Local().Format(time.RFC1123))
	}
}

func siteSetCmd() *cobra.Command {
	var lat, lon, watts, efficiency, tilt, azimuth float64
	var panels int

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change part of the stored site",
		Long:  "Only the flags given are changed. Without a stored site the configured one is the base.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				site, err := a.Store.GetSite()
				if errors.Is(err, store.ErrNotFound) {
					site, err = a.Seed(false)
				}
				if err != nil {
					return err
				}

				f := cmd.Flags()
				if f.Changed("lat") {
					site.Location.Latitude = lat
				}
				if f.Changed("lon") {
					site.Location.Longitude = lon
				}
				if f.Changed("watts") {
					site.Panel.WattsPerPanel = watts
				}
				if f.Changed("panels") {
					site.Panel.PanelCount = panels
				}
				if f.Changed("efficiency") {
					site.Panel.Efficiency = efficiency
				}
				if f.Changed("tilt") {
					site.Panel.TiltDeg = tilt
				}
				if f.Changed("azimuth") {
					site.Panel.AzimuthDeg = azimuth
				}

				saved, err := a.Store.SaveSite(site)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, saved, func(w io.Writer) { siteTable(w, saved) })
			})
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude in decimal degrees")
	cmd.Flags().Float64Var(&watts, "watts", 0, "rated watts per panel")
	cmd.Flags().IntVar(&panels, "panels", 0, "number of panels")
	cmd.Flags().Float64Var(&efficiency, "efficiency", 0, "panel efficiency, 0-1")
	cmd.Flags().Float64Var(&tilt, "tilt", 0, "tilt in degrees, 0 = flat")
	cmd.Flags().Float64Var(&azimuth, "azimuth", 0, "azimuth in degrees, 180 = south")

	return cmd
}

func applianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appliance",
		Short: "Manage appliances",
	}

	cmd.AddCommand(applianceAddCmd())
	cmd.AddCommand(applianceListCmd())
	cmd.AddCommand(applianceRemoveCmd())

	return cmd
}

func applianceAddCmd() *cobra.Command {
	var name, priority string
	var power, duration float64
	var flexibility int

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an appliance, or update the one with the same name",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := engine.ParsePriority(priority)
			if err != nil {
				return err
			}
			appliance, err := engine.NewAppliance(name, power, duration, flexibility, p)
			if err != nil {
				return err
			}

			return withApp(func(a *app.App) error {
				rec, err := a.Store.SaveAppliance(appliance)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, rec, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Saved appliance: %s\n", rec.Name)
					fmt.Fprintf(w, "  ID:\t%s\n", rec.ID)
					fmt.Fprintf(w, "  Run:\t%.1f kW for %s (%.2f kWh)\n", rec.PowerKW, rec.Duration(), rec.EnergyKWh())
					fmt.Fprintf(w, "  Flexibility:\t%d/10\n", rec.Flexibility)
					fmt.Fprintf(w, "  Priority:\t%s\n", rec.Priority)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "appliance name (required)")
	cmd.Flags().Float64VarP(&power, "power", "p", 1, "power draw in kW")
	cmd.Flags().Float64VarP(&duration, "duration", "d", 1, "run length in hours")
	cmd.Flags().IntVarP(&flexibility, "flexibility", "f", 5, "how freely the run can move, 0-10")
	cmd.Flags().StringVar(&priority, "priority", "medium", "low, medium or high")

	cmd.MarkFlagRequired("name")

	return cmd
}

func applianceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all appliances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				appliances, err := a.Store.ListAppliances()
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, appliances, func(w io.Writer) {
					if len(appliances) == 0 {
						fmt.Fprintln(w, "No appliances configured")
						return
					}
					fmt.Fprintln(w, "NAME\tID\tPOWER\tDURATION\tENERGY\tFLEX\tPRIORITY")
					for _, rec := range appliances {
						fmt.Fprintf(w, "%s\t%s\t%.1f kW\t%s\t%.2f kWh\t%d\t%s\n",
							rec.Name, rec.ID[:min(8, len(rec.ID))], rec.PowerKW, rec.Duration(), rec.EnergyKWh(),
							rec.Flexibility, rec.Priority)
					}
				})
			})
		},
	}
}

func applianceRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id-or-name>",
		Short: "Remove an appliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				if err := a.Store.DeleteAppliance(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func forecastCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Predict solar production for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				fc, err := a.Planner.Forecast(cmd.Context(), day)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, fc, func(w io.Writer) { forecastTable(w, fc) })
			})
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "today", "day to forecast (YYYY-MM-DD, today or tomorrow)")
	return cmd
}

func forecastTable(w io.Writer, fc planner.Forecast) {
	c := fc.Curve
	fmt.Fprintf(w, "Solar forecast for %s: %.2f kWh, peak %.2f kW\n\n", c.Date.Format(dateLayout), c.TotalKWh(), c.PeakKW())
	fmt.Fprintln(w, "TIME\tPOWER\tSUN\tTIER")
	for _, p := range c.Points {
		fmt.Fprintf(w, "%s\t%.2f kW\t%.0f°\t%s\n", p.Time.Format("15:04"), p.PowerKW, p.SunElevationDeg, p.Tier)
	}

	fmt.Fprintln(w)
	if len(fc.Windows) == 0 {
		fmt.Fprintln(w, "No productive windows")
		return
	}
	fmt.Fprintln(w, "WINDOW\tDURATION\tENERGY\tPEAK")
	for _, win := range fc.Windows {
		fmt.Fprintf(w, "%s-%s\t%s\t%.2f kWh\t%.2f kW\n",
			win.Start.Format("15:04"), win.End.Format("15:04"), win.Duration(), win.EnergyKWh, win.PeakKW)
	}
}

func planCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Schedule the appliances into the day's solar production",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				_, schedule, err := a.Planner.Plan(cmd.Context(), day)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, schedule, func(w io.Writer) { scheduleTable(w, schedule) })
			})
		},
	}

	cmd.Flags().StringVarP(&date, "date", "d", "today", "day to plan (YYYY-MM-DD, today or tomorrow)")
	return cmd
}

func scheduleTable(w io.Writer, s engine.Schedule) {
	fmt.Fprintf(w, "Schedule for %s at %.2f per kWh\n\n", s.Date.Format(dateLayout), s.GridPricePerKWh)
	if len(s.Items) == 0 {
		fmt.Fprintln(w, "No appliances configured")
		return
	}
	fmt.Fprintln(w, "APPLIANCE\tSTART\tEND\tPRIORITY\tSOLAR\tGRID\tCOVERAGE\tSAVINGS")
	for _, it := range s.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f kWh\t%.2f kWh\t%s\t%.2f\n",
			it.Appliance.Name, it.Start.Format("15:04"), it.End.Format("15:04"), it.Appliance.Priority,
			it.SolarKWh, it.GridKWh, pct(it.SolarCoverage), it.Savings)
	}
	fmt.Fprintf(w, "TOTAL\t\t\t\t%.2f kWh\t%.2f kWh\t%s\t%.2f\n",
		s.SolarEnergyKWh, s.GridEnergyKWh, pct(s.SolarCoverage), s.TotalSavings)

	if len(s.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range s.Recommendations {
			fmt.Fprintf(w, "  %s:\t%s\n", r.Appliance, r.Rationale)
		}
	}
}

func outlookCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "outlook",
		Short: "Rank the coming days by expected production",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDate("today")
			if err != nil {
				return err
			}
			return withApp(func(a *app.App) error {
				out, err := a.Planner.Outlook(cmd.Context(), from, days)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, out, func(w io.Writer) { outlookTable(w, out) })
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "number of days")
	return cmd
}

func outlookTable(w io.Writer, out planner.Outlook) {
	fmt.Fprintln(w, "DATE\tSKY\tCLOUD\tTEMP\tENERGY\tPEAK")
	for _, d := range out.Days {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f-%.0f°C\t%.2f kWh\t%.2f kW\n",
			d.Date.Format("Mon 2006-01-02"), d.Sky, pct(d.AvgCloudCover), d.MinTempC, d.MaxTempC, d.TotalKWh, d.PeakKW)
	}
	if len(out.BestDays) == 0 {
		return
	}
	best := make([]string, 0, len(out.BestDays))
	for _, d := range out.BestDays {
		best = append(best, d.Date.Format("Mon 02 Jan"))
	}
	fmt.Fprintf(w, "\nBest days for heavy loads: %s\n", strings.Join(best, ", "))
}
