package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"finman/internal/auth"
	"finman/internal/chart"
	"finman/internal/core"
	"finman/internal/ledger"
	"finman/internal/log"
	"finman/internal/services"
)

// ShellDeps are the collaborators of the interactive shell. Notifier and
// Renderer may be nil.
type ShellDeps struct {
	Auth      *auth.Store
	Ledger    ledger.Store
	Renderer  *chart.Renderer
	Notifier  services.ChangeNotifier
	ReportDir string
	Symbol    string
	Logger    *log.Logger
}

// Shell is the menu-driven terminal front end: register, log in, then
// manage one user's ledger.
type Shell struct {
	in   *bufio.Scanner
	out  io.Writer
	deps ShellDeps
	log  *log.Logger
}

func NewShell(in io.Reader, out io.Writer, deps ShellDeps) *Shell {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Shell{
		in:   bufio.NewScanner(in),
		out:  out,
		deps: deps,
		log:  logger.WithComponent(log.ComponentShell),
	}
}

// Run drives the main menu until the user exits, input ends or ctx is
// cancelled.
func (s *Shell) Run(ctx context.Context) error {
	s.println("Welcome to Personal Finance Manager")
	for ctx.Err() == nil {
		s.println("\n1. Register")
		s.println("2. Login")
		s.println("3. Exit")
		choice, ok := s.prompt("Enter your choice: ")
		if !ok {
			return s.in.Err()
		}

		var err error
		switch choice {
		case "1":
			err = s.register(ctx)
		case "2":
			err = s.login(ctx)
		case "3":
			s.println("Thank you for using Personal Finance Manager. Goodbye!")
			return nil
		default:
			s.println("Invalid choice. Please try again.")
		}
		if errors.Is(err, io.EOF) {
			return s.in.Err()
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Shell) register(ctx context.Context) error {
	username, ok := s.prompt("Enter a username: ")
	if !ok {
		return io.EOF
	}
	exists, err := s.deps.Auth.Exists(ctx, username)
	if err != nil {
		s.printf("Could not read users: %v\n", err)
		return nil
	}
	if exists {
		s.println("Username already exists.")
		return nil
	}
	password, ok := s.prompt("Enter password: ")
	if !ok {
		return io.EOF
	}
	if err := s.deps.Auth.Register(ctx, username, password); err != nil {
		s.printf("Registration failed: %v\n", err)
		return nil
	}
	s.log.InfoContext(ctx, "User registered", log.FieldUser, username)
	s.println("Registration successful.")
	return s.openLedger(ctx, username)
}

func (s *Shell) login(ctx context.Context) error {
	username, ok := s.prompt("Enter username: ")
	if !ok {
		return io.EOF
	}
	password, ok := s.prompt("Enter password: ")
	if !ok {
		return io.EOF
	}
	if err := s.deps.Auth.Verify(ctx, username, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.println("Wrong username or password.")
		} else {
			s.printf("Login failed: %v\n", err)
		}
		return nil
	}
	return s.openLedger(ctx, username)
}

// openLedger loads the user's records and runs the ledger menu.
func (s *Shell) openLedger(ctx context.Context, username string) error {
	opts := []services.Option{services.WithLogger(s.log)}
	if s.deps.Notifier != nil {
		opts = append(opts, services.WithNotifier(s.deps.Notifier))
	}
	rs, err := services.OpenRecordStore(ctx, s.deps.Ledger, username, opts...)
	if err != nil {
		s.printf("Could not load your records: %v\n", err)
		return nil
	}
	return s.manage(ctx, rs)
}

func (s *Shell) manage(ctx context.Context, rs *services.RecordStore) error {
	for ctx.Err() == nil {
		s.printf("\nWelcome, %s!\n", rs.User())
		s.println("1. Add Record")
		s.println("2. Delete Record")
		s.println("3. Update Record")
		s.println("4. Display Records")
		s.println("5. Create Report")
		s.println("6. Logout")
		choice, ok := s.prompt("Enter your choice: ")
		if !ok {
			return io.EOF
		}

		var err error
		switch choice {
		case "1":
			err = s.addRecord(ctx, rs)
		case "2":
			err = s.deleteRecord(ctx, rs)
		case "3":
			err = s.updateRecord(ctx, rs)
		case "4":
			s.displayRecords(rs)
		case "5":
			s.createReport(ctx, rs)
		case "6":
			s.println("Logging out.")
			return nil
		default:
			s.println("Wrong choice. Try again.")
		}
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Shell) addRecord(ctx context.Context, rs *services.RecordStore) error {
	description, ok := s.prompt("Enter detail: ")
	if !ok {
		return io.EOF
	}
	amount, ok := s.promptAmount("Enter amount (use negative for spend, up to 2 decimals): ", false)
	if !ok {
		return io.EOF
	}
	category, ok := s.prompt("Enter category: ")
	if !ok {
		return io.EOF
	}

	if _, err := rs.Add(ctx, core.Record{Description: description, Amount: *amount, Category: category}); err != nil {
		s.reportFailure(ctx, log.OpAdd, err)
		return nil
	}
	s.println("Record added successfully.")
	return nil
}

func (s *Shell) deleteRecord(ctx context.Context, rs *services.RecordStore) error {
	if rs.Len() == 0 {
		s.println("No records to delete.")
		return nil
	}
	s.println("Select a record to delete:")
	s.listNumbered(rs.List())
	index, ok, valid := s.promptIndex("Enter the number of the record to delete: ")
	if !ok {
		return io.EOF
	}
	if !valid {
		s.println("Enter a valid number.")
		return nil
	}

	if _, err := rs.Delete(ctx, index); err != nil {
		if errors.Is(err, core.ErrOutOfRange) {
			s.println("Wrong selection.")
			return nil
		}
		s.reportFailure(ctx, log.OpDelete, err)
		return nil
	}
	s.println("Record deleted.")
	return nil
}

func (s *Shell) updateRecord(ctx context.Context, rs *services.RecordStore) error {
	records := rs.List()
	if len(records) == 0 {
		s.println("No records to update.")
		return nil
	}
	s.println("Select a record to update:")
	s.listNumbered(records)
	index, ok, valid := s.promptIndex("Enter the number of the record to update: ")
	if !ok {
		return io.EOF
	}
	if !valid {
		s.println("Enter a valid number.")
		return nil
	}
	if err := core.CheckIndex(index, len(records)); err != nil {
		s.println("Invalid selection.")
		return nil
	}
	current := records[index]

	description, ok := s.prompt(fmt.Sprintf("Enter new description (%s): ", current.Description))
	if !ok {
		return io.EOF
	}
	amount, ok := s.promptAmount(fmt.Sprintf("Enter new amount (%s): ", current.Amount.String()), true)
	if !ok {
		return io.EOF
	}
	category, ok := s.prompt(fmt.Sprintf("Enter new category (%s): ", current.Category))
	if !ok {
		return io.EOF
	}

	patch := core.RecordPatch{Description: &description, Amount: amount, Category: &category}
	if _, err := rs.Update(ctx, index, patch); err != nil {
		if errors.Is(err, core.ErrOutOfRange) {
			s.println("Invalid selection.")
			return nil
		}
		s.reportFailure(ctx, log.OpUpdate, err)
		return nil
	}
	s.println("Record updated.")
	return nil
}

func (s *Shell) displayRecords(rs *services.RecordStore) {
	records := rs.List()
	if len(records) == 0 {
		s.println("No records to display.")
		return
	}
	for _, r := range records {
		s.printf("%s - %s: %s (%s)\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Description,
			core.FormatAmount(s.deps.Symbol, r.Amount), r.Category)
	}
}

func (s *Shell) createReport(ctx context.Context, rs *services.RecordStore) {
	report, err := rs.Report()
	if errors.Is(err, core.ErrEmptyResult) {
		s.println("No records available for generating reports.")
		return
	}
	if err != nil {
		s.reportFailure(ctx, log.OpReport, err)
		return
	}

	s.println("\nFinancial Reports")
	s.println("----------------")
	s.printf("Total Income: %s\n", core.FormatAmount(s.deps.Symbol, report.TotalIncome))
	s.printf("Total Expenses: %s\n", core.FormatAmount(s.deps.Symbol, report.TotalExpense))
	s.printf("Net: %s\n", core.FormatAmount(s.deps.Symbol, report.Net()))

	s.println("\nSpending Distribution by Category:")
	if len(report.CategorySpend) == 0 {
		s.println("  (no expenses)")
	}
	for _, c := range report.CategorySpend {
		s.printf("  %-20s %s\n", c.Category, core.FormatAmount(s.deps.Symbol, c.Total))
	}

	s.println("\nMonthly Trend:")
	for _, m := range report.MonthlyTrend {
		s.printf("  %s %s\n", m.Month, core.FormatAmount(s.deps.Symbol, m.Net))
	}

	if s.deps.Renderer == nil || s.deps.ReportDir == "" {
		return
	}
	paths, err := s.deps.Renderer.WriteReport(s.deps.ReportDir, rs.User(), report)
	if err != nil {
		s.reportFailure(ctx, log.OpRender, err)
		return
	}
	for _, p := range paths {
		s.printf("\nReport chart saved as '%s'\n", p)
	}
}

func (s *Shell) reportFailure(ctx context.Context, op string, err error) {
	s.log.LogError(ctx, "Shell operation failed", err, op, nil)
	switch {
	case errors.Is(err, core.ErrPersistFailed):
		s.println("Could not save your records; nothing was changed.")
	case errors.Is(err, core.ErrCorruptStore):
		s.println("The ledger file is corrupt; fix or restore it before continuing.")
	default:
		s.printf("Operation failed: %v\n", err)
	}
}

func (s *Shell) listNumbered(records []core.Record) {
	for i, r := range records {
		s.printf("%d. %s - %s (%s)\n", i+1, r.Description, core.FormatAmount(s.deps.Symbol, r.Amount), r.Category)
	}
}

// prompt reads one trimmed line; ok is false at end of input.
func (s *Shell) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

// promptAmount re-prompts until the input is a valid amount. With
// allowEmpty an empty line yields a nil amount.
func (s *Shell) promptAmount(label string, allowEmpty bool) (*decimal.Decimal, bool) {
	for {
		line, ok := s.prompt(label)
		if !ok {
			return nil, false
		}
		if line == "" && allowEmpty {
			return nil, true
		}
		amount, err := core.ParseAmount(line)
		if err == nil {
			return &amount, true
		}
		s.println("Enter a valid amount.")
	}
}

// promptIndex reads a 1-based selection and returns it 0-based. valid is
// false when the input is not a number.
func (s *Shell) promptIndex(label string) (index int, ok, valid bool) {
	line, ok := s.prompt(label)
	if !ok {
		return 0, false, false
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return 0, true, false
	}
	return n - 1, true, true
}

func (s *Shell) println(msg string) {
	fmt.Fprintln(s.out, msg)
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}
