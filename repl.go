package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"reading-tracker/googlebooks"
	"reading-tracker/library"
)

var dayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

type repl struct {
	ctx      context.Context
	sc       *bufio.Scanner
	mgr      *library.LibraryManager
	catalog  *googlebooks.Client
	sessions *library.SessionStore
	language string
	log      *slog.Logger

	user    *library.User
	results []*library.Book // last search page, numbered from 1
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func (r *repl) run() {
	if u, err := r.sessions.Load(); err != nil {
		r.log.Warn("ignoring unreadable session", "error", err)
	} else if u != nil {
		r.user = u
	}

	fmt.Println("Welcome to Hábitos de Leitura!")
	fmt.Println("Available commands:")
	fmt.Println("  Account: register, login, logout, whoami, list users")
	fmt.Println("  Catalog: search, details")
	fmt.Println("  Library: add book, list books, set status, remove book")
	fmt.Println("  Reminders: add reminder, list reminders, update reminder, delete reminder")
	fmt.Println("  System: exit")
	if r.user != nil {
		fmt.Printf("\nLogged in as %s.\n", r.user.Username)
	}

	for {
		fmt.Print("\n> ")
		if !r.sc.Scan() {
			break
		}
		cmd := strings.TrimSpace(r.sc.Text())

		switch cmd {
		case "":
		case "register":
			r.handleRegister()
		case "login":
			r.handleLogin()
		case "logout":
			r.handleLogout()
		case "whoami":
			if r.user == nil {
				fmt.Println("Not logged in.")
			} else {
				fmt.Printf("%s <%s>\n", r.user.Username, r.user.Email)
			}
		case "list users":
			r.handleListUsers()
		case "search":
			r.requireLogin(r.handleSearch)
		case "details":
			r.requireLogin(r.handleDetails)
		case "add book":
			r.requireLogin(r.handleAddBook)
		case "list books":
			r.requireLogin(r.handleListBooks)
		case "set status":
			r.requireLogin(r.handleSetStatus)
		case "remove book":
			r.requireLogin(r.handleRemoveBook)
		case "add reminder":
			r.requireLogin(r.handleAddReminder)
		case "list reminders":
			r.requireLogin(r.handleListReminders)
		case "update reminder":
			r.requireLogin(r.handleUpdateReminder)
		case "delete reminder":
			r.requireLogin(r.handleDeleteReminder)
		case "exit":
			fmt.Println("Até logo!")
			return
		default:
			fmt.Println("Unknown command. Type one of the available commands listed above.")
		}
	}
}

func (r *repl) requireLogin(fn func()) {
	if r.user == nil {
		fmt.Println("Please log in first.")
		return
	}
	fn()
}

// prompt reads one trimmed line; ok is false at end of input.
func (r *repl) prompt(label string) (string, bool) {
	fmt.Print(label)
	if !r.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(r.sc.Text()), true
}

// fail prints the user-facing message for err and logs the detail.
func (r *repl) fail(action string, err error) {
	r.log.Debug(action+" failed", "error", err)
	if errors.Is(err, library.ErrStorage) || errors.Is(err, library.ErrStorageUnavailable) {
		r.log.Error(action+" failed", "error", err)
	}
	fmt.Printf("Error: %s\n", library.UserMessage(err))
}

func (r *repl) handleRegister() {
	username, ok := r.prompt("Username: ")
	if !ok {
		return
	}
	email, ok := r.prompt("Email: ")
	if !ok {
		return
	}
	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}
	if password != confirm {
		fmt.Println("Error: Passwords do not match")
		return
	}

	if err := r.mgr.Register(r.ctx, username, email, password); err != nil {
		r.fail("register", err)
		return
	}
	fmt.Printf("Account created for %s. You can now log in.\n", username)
}

func (r *repl) handleLogin() {
	username, ok := r.prompt("Username: ")
	if !ok {
		return
	}
	password, err := readPassword("Password: ")
	if err != nil {
		fmt.Printf("Error reading password: %v\n", err)
		return
	}

	u, err := r.mgr.Login(r.ctx, username, password)
	if err != nil {
		r.fail("login", err)
		return
	}
	r.user = u
	if err := r.sessions.Save(u); err != nil {
		r.log.Warn("session not saved", "error", err)
	}
	fmt.Printf("Welcome, %s!\n", u.Username)
}

func (r *repl) handleLogout() {
	r.user = nil
	if err := r.sessions.Clear(); err != nil {
		r.log.Warn("session not cleared", "error", err)
	}
	fmt.Println("Logged out.")
}

func (r *repl) handleListUsers() {
	users, err := r.mgr.Users(r.ctx)
	if err != nil {
		r.fail("list users", err)
		return
	}
	if len(users) == 0 {
		fmt.Println("No users registered.")
		return
	}
	fmt.Printf("%-5s %-20s %-30s\n", "ID", "Username", "Email")
	fmt.Println(strings.Repeat("-", 57))
	for _, u := range users {
		fmt.Printf("%-5d %-20s %-30s\n", u.ID, u.Username, u.Email)
	}
}

func (r *repl) handleSearch() {
	query, ok := r.prompt("Query: ")
	if !ok {
		return
	}
	pageStr, ok := r.prompt("Page (Enter for 1): ")
	if !ok {
		return
	}
	page := 1
	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil || n < 1 {
			fmt.Printf("Invalid page: %s\n", pageStr)
			return
		}
		page = n
	}
	orderBy, ok := r.prompt("Order by [relevance|newest]: ")
	if !ok {
		return
	}

	res, err := r.mgr.Search(r.ctx, query, page, r.language, orderBy)
	if err != nil {
		r.log.Error("search failed", "query", query, "error", err)
		fmt.Println("Error: Could not reach the book catalog. Please try again.")
		return
	}
	r.results = res.Items
	if len(res.Items) == 0 {
		fmt.Printf("No books found matching '%s'.\n", query)
		return
	}

	fmt.Printf("Page %d, %d result(s) in total:\n", page, res.TotalItems)
	for i, b := range res.Items {
		fmt.Printf("%3d. %s\n", i+1, library.PrettyBook(b))
	}
	fmt.Println("Use 'add book' with a result number to add it to your library.")
}

// pickBook resolves a search result number or a volume id.
func (r *repl) pickBook(ref string) (*library.Book, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(r.results) {
			return nil, fmt.Errorf("no search result %d", n)
		}
		return r.results[n-1], nil
	}
	return r.catalog.GetBook(r.ctx, ref)
}

func (r *repl) handleDetails() {
	ref, ok := r.prompt("Result number or book ID: ")
	if !ok {
		return
	}
	b, err := r.pickBook(ref)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("%s\n", b.Title)
	fmt.Printf("  ID:        %s\n", b.ID)
	fmt.Printf("  Authors:   %s\n", strings.Join(b.Authors, ", "))
	fmt.Printf("  Published: %s\n", b.PublishedDate)
	fmt.Printf("  Pages:     %d\n", b.PageCount)
	fmt.Printf("  Rating:    %.1f\n", b.AverageRating)
	fmt.Printf("  Category:  %s\n", strings.Join(b.Categories, ", "))
	if b.Description != "" {
		fmt.Printf("\n%s\n", b.Description)
	}
}

func (r *repl) handleAddBook() {
	ref, ok := r.prompt("Result number or book ID: ")
	if !ok {
		return
	}
	b, err := r.pickBook(ref)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if err := r.mgr.AddBook(r.ctx, b); err != nil {
		r.fail("add book", err)
		return
	}
	fmt.Printf("Added '%s' to your library.\n", b.Title)
}

func (r *repl) handleListBooks() {
	books, err := r.mgr.Books(r.ctx)
	if err != nil {
		r.fail("list books", err)
		return
	}
	if len(books) == 0 {
		fmt.Println("No books in library.")
		return
	}
	fmt.Printf("%-14s %-32s %-24s %-10s %s\n", "ID", "Title", "Authors", "Status", "Added")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range books {
		fmt.Printf("%s %s\n", library.PrettyBook(b), b.DateAdded.Local().Format("2006-01-02 15:04"))
	}
}

func (r *repl) handleSetStatus() {
	id, ok := r.prompt("Book ID: ")
	if !ok {
		return
	}
	raw, ok := r.prompt("Status [to-read|reading|completed]: ")
	if !ok {
		return
	}
	status, err := library.ParseStatus(raw)
	if err != nil {
		r.fail("set status", err)
		return
	}
	if err := r.mgr.SetStatus(r.ctx, id, status); err != nil {
		r.fail("set status", err)
		return
	}
	fmt.Printf("Status set to %s.\n", status)
}

func (r *repl) handleRemoveBook() {
	id, ok := r.prompt("Book ID: ")
	if !ok {
		return
	}
	b, err := r.mgr.Book(r.ctx, id)
	if err != nil {
		r.fail("remove book", err)
		return
	}
	answer, ok := r.prompt(fmt.Sprintf("Remove '%s' and its reminders? [y/N]: ", b.Title))
	if !ok || !strings.EqualFold(answer, "y") {
		fmt.Println("Cancelled.")
		return
	}
	if err := r.mgr.RemoveBook(r.ctx, id); err != nil {
		r.fail("remove book", err)
		return
	}
	fmt.Printf("Removed '%s'.\n", b.Title)
}

// readSchedule asks for a time and a day list such as "1,3,5".
func (r *repl) readSchedule() (string, []int, bool) {
	at, ok := r.prompt("Time (HH:mm): ")
	if !ok {
		return "", nil, false
	}
	raw, ok := r.prompt("Days (0=Sun … 6=Sat, comma separated): ")
	if !ok {
		return "", nil, false
	}
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			fmt.Printf("Invalid day: %s\n", part)
			return "", nil, false
		}
		days = append(days, d)
	}
	return at, days, true
}

func formatDays(days []int) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			names = append(names, dayNames[d])
		}
	}
	return strings.Join(names, ",")
}

func (r *repl) handleAddReminder() {
	bookID, ok := r.prompt("Book ID: ")
	if !ok {
		return
	}
	at, days, ok := r.readSchedule()
	if !ok {
		return
	}
	rem, err := r.mgr.AddReminder(r.ctx, bookID, at, days)
	if err != nil {
		r.fail("add reminder", err)
		return
	}
	fmt.Printf("Reminder %s set for '%s' at %s on %s.\n", rem.ID, rem.BookTitle, rem.Time, formatDays(rem.DaysOfWeek))
}

func (r *repl) handleListReminders() {
	bookID, ok := r.prompt("Book ID: ")
	if !ok {
		return
	}
	reminders, err := r.mgr.Reminders(r.ctx, bookID)
	if err != nil {
		r.fail("list reminders", err)
		return
	}
	if len(reminders) == 0 {
		fmt.Println("No reminders for this book.")
		return
	}
	fmt.Printf("%-45s %-6s %-28s %s\n", "ID", "Time", "Days", "Enabled")
	fmt.Println(strings.Repeat("-", 90))
	for _, rem := range reminders {
		fmt.Printf("%-45s %-6s %-28s %t\n", rem.ID, rem.Time, formatDays(rem.DaysOfWeek), rem.IsEnabled)
	}
}

func (r *repl) handleUpdateReminder() {
	id, ok := r.prompt("Reminder ID: ")
	if !ok {
		return
	}
	at, days, ok := r.readSchedule()
	if !ok {
		return
	}
	enabled, ok := r.prompt("Enabled? [Y/n]: ")
	if !ok {
		return
	}
	on := !strings.EqualFold(enabled, "n")
	if err := r.mgr.UpdateReminder(r.ctx, id, at, days, on); err != nil {
		r.fail("update reminder", err)
		return
	}
	fmt.Println("Reminder updated.")
}

func (r *repl) handleDeleteReminder() {
	id, ok := r.prompt("Reminder ID: ")
	if !ok {
		return
	}
	if err := r.mgr.DeleteReminder(r.ctx, id); err != nil {
		r.fail("delete reminder", err)
		return
	}
	fmt.Println("Reminder deleted.")
}
