package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/fatih/color"

	"github.com/ehrlich-b/wingdesk/internal/chat"
	"github.com/ehrlich-b/wingdesk/internal/core"
	"github.com/ehrlich-b/wingdesk/internal/diff"
	"github.com/ehrlich-b/wingdesk/internal/workspace"
	"github.com/ehrlich-b/wingdesk/internal/ws"
)

const shellHelp = `files:     ls [dir] | cat <file> | edit [file] | write <text> | new <file> | rm <file>
review:    save | diff | apply | discard
agent:     ask <msg> | say <msg> | quick [action] | implement <text>
terminal:  $ <cmd> (live channel) | run <cmd> (one-off)
session:   status | reconnect | history | quit`

// shell is the interactive workspace prompt bound to one core.
type shell struct {
	core   *core.Core
	in     *bufio.Scanner
	out    io.Writer
	editor string

	shownChat int
	shownTerm int
}

func newShell(c *core.Core, in io.Reader, out io.Writer, editor string) *shell {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	s := &shell{core: c, in: sc, out: out, editor: editor}
	s.shownChat = len(c.Chat.Messages())
	s.shownTerm = len(c.Terminal.Lines())
	return s
}

// Run reads commands until quit or end of input.
func (s *shell) Run(ctx context.Context) error {
	for {
		s.flush()
		fmt.Fprint(s.out, s.prompt())
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		if quit := s.exec(ctx, s.in.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *shell) prompt() string {
	label := "wd"
	if d, ok := s.core.Files.Document(); ok {
		label = d.Path
		if d.Dirty {
			label += "*"
		}
	}
	if s.core.Files.ProposalState() == diff.StatePending {
		label += " [review]"
	}
	return label + "> "
}

// parseLine splits a shell line into a command and its raw argument. A
// leading "$" is the terminal command.
func parseLine(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "$") {
		return "$", strings.TrimSpace(line[1:])
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// unescape turns the two-character sequences \n and \t into their characters.
func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(s)
}

func (s *shell) exec(ctx context.Context, line string) bool {
	cmd, arg := parseLine(line)
	switch cmd {
	case "":
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "quit", "exit":
		return true

	case "ls":
		s.list(ctx, arg)
	case "cat":
		if s.need(arg, "cat <file>") {
			s.cat(ctx, arg)
		}
	case "edit":
		s.edit(ctx, arg)
	case "write":
		s.core.Edit(unescape(arg))
	case "new":
		if s.need(arg, "new <file>") {
			s.confirmed(func(force bool) error {
				_, err := s.core.Create(ctx, arg, "", force)
				return err
			})
		}
	case "rm":
		if s.need(arg, "rm <file>") {
			s.confirmed(func(force bool) error {
				return s.core.Delete(ctx, arg, force)
			})
		}

	case "save":
		if p, err := s.core.Save(ctx); err == nil && p != nil {
			diff.Render(s.out, *p)
		}
	case "diff":
		p, ok := s.core.Files.Pending()
		if !ok {
			fmt.Fprintln(s.out, "nothing to review")
			break
		}
		diff.Render(s.out, p)
	case "apply":
		s.core.Apply(ctx)
	case "discard":
		s.core.Discard()

	case "ask":
		if s.need(arg, "ask <message>") {
			s.core.Ask(ctx, arg)
		}
	case "say":
		if s.need(arg, "say <message>") {
			s.core.Say(ctx, arg)
		}
	case "quick":
		if arg == "" {
			for _, a := range chat.QuickActions() {
				text, _ := a.Instruction()
				fmt.Fprintf(s.out, "%-12s %s\n", a, text)
			}
			break
		}
		s.core.Quick(ctx, chat.QuickAction(arg))
	case "implement":
		if s.need(arg, "implement <requirements>") {
			s.core.Implement(ctx, unescape(arg))
		}

	case "$":
		if s.need(arg, "$ <command>") {
			s.core.Submit(ctx, arg)
		}
	case "run":
		if s.need(arg, "run <command>") {
			s.core.Exec(ctx, arg)
		}

	case "status":
		s.status()
	case "reconnect":
		s.core.Reconnect(ctx)
	case "history":
		s.history()
	default:
		fmt.Fprintf(s.out, "unknown command %q, type help\n", cmd)
	}
	return false
}

func (s *shell) need(arg, usage string) bool {
	if arg == "" {
		fmt.Fprintln(s.out, "usage: "+usage)
		return false
	}
	return true
}

// confirmed runs op, and when it refuses because of unsaved edits asks before
// running it again with force.
func (s *shell) confirmed(op func(force bool) error) error {
	err := op(false)
	if !errors.Is(err, workspace.ErrUnsavedChanges) {
		return err
	}
	d, _ := s.core.Files.Document()
	if !s.confirm(fmt.Sprintf("%s has unsaved changes, discard them?", d.Path)) {
		return err
	}
	return op(true)
}

func (s *shell) confirm(question string) bool {
	fmt.Fprint(s.out, question+" [y/N] ")
	if !s.in.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s.in.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

func (s *shell) list(ctx context.Context, dir string) {
	entries, err := s.core.List(ctx, dir)
	if err != nil {
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "(empty)")
		return
	}
	blue := color.New(color.FgBlue, color.Bold)
	for _, e := range entries {
		if e.IsDir() {
			blue.Fprintln(s.out, e.Path+"/")
		} else {
			fmt.Fprintln(s.out, e.Path)
		}
	}
}

func (s *shell) cat(ctx context.Context, p string) {
	var doc workspace.Document
	err := s.confirmed(func(force bool) error {
		var err error
		doc, err = s.core.Read(ctx, p, force)
		return err
	})
	if err != nil {
		return
	}
	fmt.Fprint(s.out, doc.Content)
	if doc.Content != "" && !strings.HasSuffix(doc.Content, "\n") {
		fmt.Fprintln(s.out)
	}
}

// edit opens the document in the external editor on a temp copy and takes
// the result as the new buffer content.
func (s *shell) edit(ctx context.Context, p string) {
	if d, ok := s.core.Files.Document(); p != "" && (!ok || d.Path != p) {
		err := s.confirmed(func(force bool) error {
			_, err := s.core.Read(ctx, p, force)
			return err
		})
		if err != nil {
			return
		}
	}
	doc, ok := s.core.Files.Document()
	if !ok {
		fmt.Fprintln(s.out, "usage: edit <file>")
		return
	}

	edited, err := runEditor(s.editor, doc.Path, doc.Content)
	if err != nil {
		fmt.Fprintln(s.out, color.RedString("edit: %v", err))
		return
	}
	if edited == doc.Content {
		fmt.Fprintln(s.out, "no changes")
		return
	}
	if s.core.Edit(edited) == nil {
		fmt.Fprintln(s.out, "buffer updated, run save to send it")
	}
}

func runEditor(editor, name, content string) (string, error) {
	f, err := os.CreateTemp("", "wd-*"+path.Ext(name))
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	argv := strings.Fields(editor)
	if len(argv) == 0 {
		return "", fmt.Errorf("no editor configured")
	}
	cmd := exec.Command(argv[0], append(argv[1:], f.Name())...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	b, err := os.ReadFile(f.Name())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *shell) status() {
	sess, ok := s.core.Sessions.Active()
	if !ok {
		fmt.Fprintln(s.out, "no active session")
		return
	}
	fmt.Fprintf(s.out, "session   %s\n", sess.ID)
	root := sess.ProjectRoot
	if root == "" {
		root = "(empty project)"
	}
	fmt.Fprintf(s.out, "project   %s\n", root)
	for _, k := range ws.Kinds {
		fmt.Fprintf(s.out, "%-9s %s\n", k, s.core.Channels.State(k))
	}
	if d, ok := s.core.Files.Document(); ok {
		state := "clean"
		if d.Dirty {
			state = "modified"
		}
		fmt.Fprintf(s.out, "open      %s (%s)\n", d.Path, state)
	}
	if p, ok := s.core.Files.Pending(); ok {
		added, removed := p.Stats()
		fmt.Fprintf(s.out, "review    %s (+%d, -%d)\n", p.Path, added, removed)
	}
}

func (s *shell) history() {
	for _, m := range s.core.Chat.Messages() {
		s.printMessage(m)
	}
	for _, l := range s.core.Terminal.Lines() {
		s.printLine(l)
	}
	s.shownChat = len(s.core.Chat.Messages())
	s.shownTerm = len(s.core.Terminal.Lines())
}

// flush prints transcript entries that arrived since the last prompt. The
// user's own chat messages are not echoed back.
func (s *shell) flush() {
	msgs := s.core.Chat.Messages()
	if len(msgs) < s.shownChat {
		s.shownChat = 0
	}
	for _, m := range msgs[s.shownChat:] {
		if m.Role != chat.RoleUser {
			s.printMessage(m)
		}
	}
	s.shownChat = len(msgs)

	lines := s.core.Terminal.Lines()
	if len(lines) < s.shownTerm {
		s.shownTerm = 0
	}
	for _, l := range lines[s.shownTerm:] {
		s.printLine(l)
	}
	s.shownTerm = len(lines)
}

func (s *shell) printMessage(m chat.Message) {
	if m.Role == chat.RoleUser {
		fmt.Fprintln(s.out, color.New(color.Bold).Sprint("you: ")+m.Content)
		return
	}
	fmt.Fprintln(s.out, color.MagentaString("agent: ")+m.Content)
}

func (s *shell) printLine(l string) {
	if l == "" {
		return
	}
	if strings.HasPrefix(l, "$ ") {
		fmt.Fprintln(s.out, color.GreenString(l))
		return
	}
	fmt.Fprintln(s.out, strings.TrimRight(l, "\n"))
}
