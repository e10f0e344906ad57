package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"daycal/internal/calendar"
	"daycal/internal/ics"
	"daycal/internal/model"
)

// newRootCommand builds the daycal command tree. The returned app must be
// closed once the command has run.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "daycal",
		Short: "Single-user calendar on a 15-minute slot grid",
		Long: `daycal books events into fixed 15-minute slots, one grid per day, and
keeps reminders for them. Events live in a SQLite database; the serve
command exposes them over HTTP and dispatches reminders as they fall due.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "Path to config file")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newAddCommand(a))
	root.AddCommand(newUpdateCommand(a))
	root.AddCommand(newListCommand(a))
	root.AddCommand(newShowCommand(a))
	root.AddCommand(newSlotsCommand(a))
	root.AddCommand(newDeleteCommand(a))
	root.AddCommand(newRemindCommand(a))
	root.AddCommand(newRemindersCommand(a))
	root.AddCommand(newUnremindCommand(a))
	root.AddCommand(newExportCommand(a))
	root.AddCommand(newImportCommand(a))
	root.AddCommand(newSyncCommand(a))
	return root, a
}

func newAddCommand(a *app) *cobra.Command {
	var date, start, end, description string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Book a new event",
		Example: `  daycal add "Dentist" --date 2026-10-20 --start 09:00 --end 10:00
  daycal add "Late shift" --date 2026-10-20 --start 22:00 --end 24:00`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, s, e, err := parseRange(date, start, end)
			if err != nil {
				return err
			}
			ev, err := a.cal.AddEvent(args[0], description, d, s, e)
			if err != nil {
				return err
			}
			if err := a.store.SaveEvent(ev); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ev.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "End time (HH:MM, 24:00 for midnight)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newUpdateCommand(a *app) *cobra.Command {
	var title, description, date, start, end string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an event; flags that are not given keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := a.cal.Event(args[0])
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("title") {
				ev.Title = title
			}
			if flags.Changed("description") {
				ev.Description = description
			}
			if flags.Changed("date") {
				if ev.Date, err = model.ParseDate(date); err != nil {
					return err
				}
			}
			if flags.Changed("start") {
				if ev.Start, err = model.ParseTimeOfDay(start); err != nil {
					return err
				}
			}
			if flags.Changed("end") {
				if ev.End, err = model.ParseTimeOfDay(end); err != nil {
					return err
				}
			}
			updated, err := a.cal.UpdateEvent(ev.ID, ev.Title, ev.Description, ev.Date, ev.Start, ev.End)
			if err != nil {
				return err
			}
			if err := a.store.SaveEvent(updated); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), updated.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description")
	cmd.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "End time (HH:MM)")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var from, to string
	var days int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events grouped by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := a.cal.Today()
			if from != "" {
				d, err := model.ParseDate(from)
				if err != nil {
					return err
				}
				start = d
			}
			if days <= 0 {
				days = 7
			}
			end := start.AddDays(days - 1)
			if to != "" {
				d, err := model.ParseDate(to)
				if err != nil {
					return err
				}
				end = d
			}

			found := a.cal.FindEvents(start, end)
			dates := make([]model.Date, 0, len(found))
			for d := range found {
				dates = append(dates, d)
			}
			sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

			out := cmd.OutOrStdout()
			if len(dates) == 0 {
				fmt.Fprintf(out, "no events between %s and %s\n", start, end)
				return nil
			}
			for _, d := range dates {
				fmt.Fprintln(out, d)
				for _, ev := range found[d] {
					fmt.Fprintf(out, "  %s-%s  %s  [%s]\n", ev.Start, ev.End, ev.Title, ev.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First date (default today)")
	cmd.Flags().StringVar(&to, "to", "", "Last date, inclusive")
	cmd.Flags().IntVar(&days, "days", 7, "Days to list when --to is not given")
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one event and its reminders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := a.cal.Event(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ev.String())
			fmt.Fprintf(out, "Date: %s\n", ev.Date)
			printReminders(out, ev.Reminders, a.loc)
			return nil
		},
	}
}

func newSlotsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "slots <date>",
		Short: "Show the free 15-minute slots of a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := model.ParseDate(args[0])
			if err != nil {
				return err
			}
			free := a.cal.FindAvailableSlots(date)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d of %d slots free\n", date, len(free), calendar.SlotsPerDay)
			for _, r := range freeRanges(free) {
				fmt.Fprintf(out, "  %s-%s\n", r[0], r[1])
			}
			return nil
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an event and free its slots",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cal.DeleteEvent(args[0]); err != nil {
				return err
			}
			if err := a.store.DeleteEvent(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newRemindCommand(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "remind <id> <time>",
		Short: "Attach a reminder to an event",
		Long: `Attach a reminder to an event. <time> is RFC 3339 or "YYYY-MM-DD HH:MM"
in the configured timezone.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseWhen(args[1], a.loc)
			if err != nil {
				return err
			}
			k, err := model.ParseReminderKind(kind)
			if err != nil {
				return err
			}
			if err := a.cal.AddReminder(args[0], at, k); err != nil {
				return err
			}
			if err := a.save(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), model.NewReminder(at.In(a.loc), k).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(model.DefaultReminderKind), "Reminder kind: email or system")
	return cmd
}

func newRemindersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reminders <id>",
		Short: "List an event's reminders with their index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := a.cal.ListReminders(args[0])
			if err != nil {
				return err
			}
			printReminders(cmd.OutOrStdout(), rs, a.loc)
			return nil
		},
	}
}

func newUnremindCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unremind <id> <index>",
		Short: "Remove a reminder by index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid reminder index %q", args[1])
			}
			if err := a.cal.DeleteReminder(args[0], index); err != nil {
				return err
			}
			if err := a.save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed reminder %d of %s\n", index, args[0])
			return nil
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all events as ICS to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events := a.cal.Events()
			if len(args) == 0 || args[0] == "-" {
				return ics.Export(cmd.OutOrStdout(), events, a.loc, time.Now())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := ics.Export(f, events, a.loc, time.Now()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", len(events), args[0])
			return nil
		},
	}
}

func newImportCommand(a *app) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "import <file> | --url <url>",
		Short: "Import the VEVENTs of an ICS file or URL",
		Args: func(cmd *cobra.Command, args []string) error {
			if url == "" && len(args) != 1 {
				return fmt.Errorf("need an ICS file or --url")
			}
			if url != "" && len(args) != 0 {
				return fmt.Errorf("give either a file or --url, not both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			src := ics.Source{ID: "import", URL: url}
			if url == "" {
				src = ics.Source{ID: args[0], URL: args[0]}
			}
			fetcher := ics.NewFetcher(a.cfg.CacheDir)
			res, err := fetcher.FetchOne(cmd.Context(), src)
			if err != nil {
				return err
			}
			return a.importBody(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "ICS URL (ETag/Last-Modified cached)")
	return cmd
}

func newSyncCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Import every configured subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources := make([]ics.Source, 0, len(a.cfg.Subscriptions))
			for _, s := range a.cfg.Subscriptions {
				if s.URL == "" {
					continue
				}
				sources = append(sources, ics.Source{ID: s.ID, URL: s.URL})
			}
			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no subscriptions configured")
				return nil
			}

			results, errs := ics.NewFetcher(a.cfg.CacheDir).FetchAll(cmd.Context(), sources)
			for _, res := range results {
				if err := a.importBody(cmd.OutOrStdout(), res); err != nil {
					errs = append(errs, fmt.Errorf("source %s: %w", res.Source.ID, err))
				}
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d subscriptions failed: %w", len(errs), len(sources), errs[0])
			}
			return nil
		},
	}
}

// importBody parses and imports one fetched ICS body, persisting what was
// added, and prints a one-line summary plus the skipped entries.
func (a *app) importBody(out io.Writer, res ics.FetchResult) error {
	parsed, err := ics.ParseICS(res.Source, res.Body)
	if err != nil {
		return err
	}
	result := ics.Import(a.cal, parsed, a.loc)
	if err := a.saveAll(result.Imported); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d imported, %d already present, %d skipped\n",
		res.Source.ID, len(result.Imported), len(result.Existing), len(result.Skipped))
	uids := make([]string, 0, len(result.Skipped))
	for uid := range result.Skipped {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	for _, uid := range uids {
		fmt.Fprintf(out, "  skipped %s: %v\n", uid, result.Skipped[uid])
	}
	return nil
}

func printReminders(out io.Writer, rs []model.Reminder, loc *time.Location) {
	if len(rs) == 0 {
		fmt.Fprintln(out, "no reminders")
		return
	}
	for i, r := range rs {
		r.At = r.At.In(loc)
		fmt.Fprintf(out, "%d: %s\n", i, r)
	}
}

func parseRange(date, start, end string) (model.Date, model.TimeOfDay, model.TimeOfDay, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return model.Date{}, 0, 0, err
	}
	s, err := model.ParseTimeOfDay(start)
	if err != nil {
		return model.Date{}, 0, 0, err
	}
	e, err := model.ParseTimeOfDay(end)
	if err != nil {
		return model.Date{}, 0, 0, err
	}
	return d, s, e, nil
}

// parseWhen accepts RFC 3339 or a local "YYYY-MM-DD HH:MM" (a "T" separator
// works too) in loc.
func parseWhen(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD HH:MM", s)
}

// freeRanges merges consecutive free slots into [start, end) ranges.
func freeRanges(free []model.TimeOfDay) [][2]model.TimeOfDay {
	var out [][2]model.TimeOfDay
	for _, s := range free {
		next := s + calendar.SlotMinutes
		if n := len(out); n > 0 && out[n-1][1] == s {
			out[n-1][1] = next
			continue
		}
		out = append(out, [2]model.TimeOfDay{s, next})
	}
	return out
}
