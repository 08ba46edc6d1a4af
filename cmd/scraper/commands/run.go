package commands

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rizkirmdhn/beasiswa/internal/common/messaging"
	"github.com/rizkirmdhn/beasiswa/internal/common/metrics"
	"github.com/rizkirmdhn/beasiswa/internal/export"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/browser"
	"github.com/rizkirmdhn/beasiswa/internal/scraper/service"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	runMonths []string
	runOut    string
)

func init() {
	runCmd.Flags().StringSliceVar(&runMonths, "months", []string{models.MonthName(models.DefaultMonth)},
		"months to scrape, by name or number (e.g. Januari,2)")
	runCmd.Flags().StringVar(&runOut, "out", "", "CSV output path (default <export.dir>/<export.fileName>)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--months Januari,Februari] [--out data.csv]",
	Short: "Scrapes the selected months once and writes the unique records to CSV.",
	RunE: func(cmd *cobra.Command, args []string) error {
		months, err := models.ParseMonths(runMonths)
		if err != nil {
			return err
		}
		if len(months) == 0 {
			return service.ErrNoMonths
		}

		cfg, log, err := setup()
		if err != nil {
			return err
		}

		manager := browser.NewManager(cfg.GetScraperConfig(), log)
		defer manager.Close()

		scraper := service.NewScraperService(cfg.GetScraperConfig(), manager, metrics.New(prometheus.NewRegistry()), log)

		reporter := service.MultiReporter{service.NewLogReporter(log)}
		if cfg.RabbitMq.Enabled() {
			client, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
			if err != nil {
				log.WithField("component", "scraper_main").WithError(err).Warn("RabbitMQ unavailable, progress stays local")
			} else {
				defer client.Close()
				reporter = append(reporter, service.NewBrokerReporter(client, cfg.GetRabbitMQConfig(), log))
			}
		}

		summary, err := scraper.Scrape(cmd.Context(), months, reporter)
		if err != nil {
			var initErr *browser.SessionInitError
			if errors.As(err, &initErr) {
				return fmt.Errorf("browser unavailable:\n%s", initErr.Detail())
			}
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range summary.Months {
			line := fmt.Sprintf("%-10s pages=%-3d records=%-4d %s", m.Name, m.Pages, m.Records, m.Outcome)
			if m.Warning != "" {
				line += " (" + m.Warning + ")"
			}
			fmt.Fprintln(out, line)
		}

		if len(summary.Records) == 0 {
			fmt.Fprintln(out, "Scraping selesai, tetapi tidak ada data yang ditemukan.")
			return nil
		}

		path := export.Path(cfg.GetExportConfig(), runOut)
		if err := export.SaveCSV(path, summary.Records); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"component": "scraper_main",
			"path":      path,
			"unique":    len(summary.Records),
		}).Info("CSV written")
		fmt.Fprintf(out, "Scraping selesai! %d beasiswa unik ditemukan, disimpan ke %s\n", len(summary.Records), path)
		return nil
	},
}
