package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lending-registry/internal/config"
	"lending-registry/library"
)

func main() {
	a := &app{}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

// app carries per-invocation state between the root hooks and subcommands.
type app struct {
	mgr    *library.LibraryManager
	out    io.Writer
	asJSON bool

	dbPath string
	driver string
	caller string
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lending",
		Short:        "Track books, members and loans",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database file (overrides LENDING_DB_PATH)")
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "sqlite driver: sqlite3 or sqlite (overrides LENDING_SQLITE_DRIVER)")
	root.PersistentFlags().StringVar(&a.caller, "as", "", "caller account (overrides LENDING_CALLER)")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		a.addBookCmd(),
		a.copiesCmd("add-copies", "Add copies of a book", a.addCopies),
		a.copiesCmd("remove-copies", "Take copies of a book out of circulation", a.removeCopies),
		a.listBooksCmd(),
		a.addMemberCmd(),
		a.confirmMemberCmd(),
		a.listMembersCmd(),
		a.borrowCmd(),
		a.returnCmd(),
		a.loansCmd(),
		a.overdueCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.driver != "" {
		cfg.SQLiteDriver = a.driver
	}
	if a.caller != "" {
		cfg.Caller = a.caller
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))

	opts := []library.LedgerOption{
		library.WithLoanPeriod(cfg.LoanPeriod),
		library.WithLogger(logger),
	}
	if cfg.SingleLoanPerBook {
		opts = append(opts, library.WithSingleLoanPerBook())
	}

	mgr, err := library.OpenLibraryManager(cfg.SQLiteDriver, cfg.DBPath, opts...)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	mgr.SetCallerSource(library.StaticCaller(cfg.Caller))

	a.mgr = mgr
	a.out = cmd.OutOrStdout()
	return nil
}

func (a *app) close() {
	if a.mgr != nil {
		a.mgr.Close()
		a.mgr = nil
	}
}

// termWidth reports the width of stdout when it is a terminal, else 0.
func termWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}

// ------------------ Books ------------------

func (a *app) addBookCmd() *cobra.Command {
	var (
		category       string
		drawer, column uint8
	)
	cmd := &cobra.Command{
		Use:   "add-book TITLE",
		Short: "Add a title to the catalog with one copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := a.mgr.AddBook(args[0], category, drawer, column)
			if err != nil {
				return err
			}
			b, err := a.mgr.GetBook(id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, b)
			}
			fmt.Fprintf(a.out, "Added book ID %d (%s, drawer %d column %d)\n", id, b.Category, drawer, column)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "any", "category: any, war or fantasy")
	cmd.Flags().Uint8Var(&drawer, "drawer", 0, "drawer number")
	cmd.Flags().Uint8Var(&column, "column", 0, "column number")
	return cmd
}

func (a *app) copiesCmd(use, short string, run func(library.BookID, uint16) (library.Book, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " BOOK_ID N",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid number of copies: %s", args[1])
			}
			b, err := run(id, uint16(n))
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, b)
			}
			fmt.Fprintf(a.out, "Book '%s' now has %d copies\n", b.Title, b.TotalCopies)
			return nil
		},
	}
}

func (a *app) addCopies(id library.BookID, n uint16) (library.Book, error) {
	return a.mgr.AddCopies(id, n)
}

func (a *app) removeCopies(id library.BookID, n uint16) (library.Book, error) {
	return a.mgr.RemoveCopies(id, n)
}

func (a *app) listBooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			books := a.mgr.GetAllBooks()
			if a.asJSON {
				return library.WriteJSON(a.out, books)
			}
			if len(books) == 0 {
				fmt.Fprintln(a.out, "No books in library.")
				return nil
			}
			width := library.TitleWidth(termWidth())
			fmt.Fprintf(a.out, "%-5s %-*s %-8s %-7s %s\n", "ID", width, "Title", "Category", "Avail", "Slot")
			fmt.Fprintln(a.out, library.Rule(width+32))
			for _, b := range books {
				avail, err := a.mgr.Available(b.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, library.PrettyBook(b, avail, width))
			}
			return nil
		},
	}
}

// ------------------ Members ------------------

func (a *app) addMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-member NAME",
		Short: "Register the calling account as a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := a.mgr.AddMember(args[0])
			if err != nil {
				return err
			}
			m, err := a.mgr.GetMember(id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, m)
			}
			fmt.Fprintf(a.out, "Added member '%s' with ID %d\n", m.DisplayName, id)
			return nil
		},
	}
}

func (a *app) confirmMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-member MEMBER_ID",
		Short: "Mark a registered user as a confirmed member",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid member ID: %s", args[0])
			}
			m, err := a.mgr.ConfirmMember(library.MemberID(id))
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, m)
			}
			fmt.Fprintf(a.out, "Member '%s' confirmed\n", m.DisplayName)
			return nil
		},
	}
}

func (a *app) listMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List registered members",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			members := a.mgr.GetAllMembers()
			if a.asJSON {
				return library.WriteJSON(a.out, members)
			}
			if len(members) == 0 {
				fmt.Fprintln(a.out, "No members registered.")
				return nil
			}
			fmt.Fprintf(a.out, "%-5s %-30s %-25s %-5s\n", "ID", "Name", "Account", "Member")
			fmt.Fprintln(a.out, library.Rule(68))
			for _, m := range members {
				fmt.Fprintln(a.out, library.PrettyMember(m, 30))
			}
			return nil
		},
	}
}

// ------------------ Circulation ------------------

func (a *app) borrowCmd() *cobra.Command {
	var title, member string
	cmd := &cobra.Command{
		Use:   "borrow [BOOK_ID]",
		Short: "Borrow a book by id as the caller, or by --title for --member",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var (
				receipt library.LoanReceipt
				err     error
			)
			switch {
			case len(args) == 1:
				id, perr := parseBookID(args[0])
				if perr != nil {
					return perr
				}
				receipt, err = a.mgr.CheckoutBook(id)
			case title != "" && member != "":
				receipt, err = a.mgr.CheckoutByTitle(title, member)
			default:
				return errors.New("give a BOOK_ID, or both --title and --member")
			}
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, receipt)
			}
			fmt.Fprintf(a.out, "Book '%s' lent to %s, due %s\n",
				receipt.Title, receipt.Caller, receipt.DueAt.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title (exact match)")
	cmd.Flags().StringVar(&member, "member", "", "member display name (exact match)")
	return cmd
}

func (a *app) returnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return BOOK_ID",
		Short: "Return the caller's earliest open loan of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			loan, err := a.mgr.ReturnBook(id)
			if err != nil {
				return err
			}
			if a.asJSON {
				return library.WriteJSON(a.out, loan)
			}
			fmt.Fprintf(a.out, "Book %d returned by %s\n", loan.BookID, loan.Caller)
			return nil
		},
	}
}

func (a *app) loansCmd() *cobra.Command {
	var caller string
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "Show loan history for the caller (or --caller)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var (
				loans []library.Loan
				err   error
			)
			if caller != "" {
				loans, err = a.mgr.LoansFor(library.CallerID(caller))
			} else {
				loans, err = a.mgr.MyLoans()
			}
			if errors.Is(err, library.ErrNoLoanRecord) {
				if a.asJSON {
					return library.WriteJSON(a.out, []library.Loan{})
				}
				fmt.Fprintln(a.out, "No loans recorded.")
				return nil
			}
			if err != nil {
				return err
			}
			return a.printLoans(loans)
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "account to show instead of the caller")
	return cmd
}

func (a *app) overdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List open loans past their due date",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			loans := a.mgr.Overdue()
			if !a.asJSON && len(loans) == 0 {
				fmt.Fprintln(a.out, "Nothing overdue.")
				return nil
			}
			return a.printLoans(loans)
		},
	}
}

func (a *app) printLoans(loans []library.Loan) error {
	if a.asJSON {
		if loans == nil {
			loans = []library.Loan{}
		}
		return library.WriteJSON(a.out, loans)
	}
	now := library.SystemClock{}.Now()
	fmt.Fprintf(a.out, "%-36s %-5s %-20s %-17s %-8s\n", "Loan", "Book", "Caller", "Due", "Status")
	fmt.Fprintln(a.out, library.Rule(90))
	for _, l := range loans {
		fmt.Fprintln(a.out, library.PrettyLoan(l, now))
	}
	return nil
}

func parseBookID(s string) (library.BookID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid book ID: %s", s)
	}
	return library.BookID(id), nil
}
