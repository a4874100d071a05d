package iocli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Stdio реализует IO поверх потоков процесса
type Stdio struct {
	in  io.Reader
	out io.Writer
	r   *bufio.Reader
}

// NewStdio создает IO на stdin и stdout
func NewStdio() IO {
	return NewStream(os.Stdin, os.Stdout)
}

// NewStream создает IO на произвольных потоках.
// Пароль читается без эха, только если in является терминалом.
func NewStream(in io.Reader, out io.Writer) *Stdio {
	return &Stdio{in: in, out: out, r: bufio.NewReader(in)}
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.out, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.out, format, a...)
}

func (s *Stdio) Write(p []byte) (int, error) {
	return s.out.Write(p)
}

func (s *Stdio) ReadInput(prompt string) (string, error) {
	s.Printf("%s", prompt)
	return s.readLine()
}

func (s *Stdio) ReadPassword(prompt string) (string, error) {
	s.Printf("%s", prompt)

	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pwBytes, err := term.ReadPassword(int(f.Fd()))
		s.Println("")
		if err != nil {
			return "", err
		}
		return string(pwBytes), nil
	}

	// ввод перенаправлен из файла или pipe
	return s.readLine()
}

func (s *Stdio) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
