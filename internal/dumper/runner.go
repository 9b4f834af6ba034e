package dumper

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Command は抽出プロセッサに渡すサブコマンドです。
type Command string

const (
	CommandList     Command = "list"
	CommandMetadata Command = "metadata"
	CommandDump     Command = "dump"
)

// 猶予時間を過ぎても終了しないプロセスは強制終了します。
const terminateGrace = 5 * time.Second

// ワーカーの診断行は長くなりうるため、スキャナの行上限を広げておきます。
const maxLineBytes = 1024 * 1024

// Runner はジョブ1件につきワーカープロセスを1つ起動し、
// その標準出力をイベント列として消費者へ届けます。
type Runner struct {
	PythonPath      string
	ProcessorScript string
	OutputDir       string
	Logger          *log.Logger
}

// NewRunner は Runner を作成します。
func NewRunner(pythonPath, processorScript, outputDir string, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		PythonPath:      pythonPath,
		ProcessorScript: processorScript,
		OutputDir:       outputDir,
		Logger:          logger,
	}
}

// Run はワーカープロセスを起動し、イベントのチャネルを返します。
// チャネルは単一消費者向けで、プロセス終了時に必ずクローズされます。
// デッドライン超過時は SIGTERM → 猶予 → SIGKILL の順で打ち切り、
// 終端イベントとして Timeout を届けます。
func (r *Runner) Run(ctx context.Context, command Command, args []string, deadline time.Duration) <-chan Event {
	events := make(chan Event)
	go r.supervise(ctx, command, args, deadline, events)
	return events
}

func (r *Runner) supervise(ctx context.Context, command Command, args []string, deadline time.Duration, events chan<- Event) {
	defer close(events)

	cmdArgs := append([]string{r.ProcessorScript, string(command)}, args...)
	cmd := exec.Command(r.PythonPath, cmdArgs...)
	// ワーカー側の出力バッファリングを無効化しないと行単位で届かない
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		events <- Event{Kind: EventError, Text: "execution failed"}
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		events <- Event{Kind: EventError, Text: "execution failed"}
		return
	}

	if err := cmd.Start(); err != nil {
		r.Logger.Printf("failed to start dumper process: %v", err)
		events <- Event{Kind: EventError, Text: "execution failed"}
		return
	}
	r.Logger.Printf("dumper process started: %s %v (pid=%d)", r.PythonPath, cmdArgs, cmd.Process.Pid)

	// 標準エラーは副チャネルとしてログに流すだけでイベントにはしない
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			r.Logger.Printf("dumper stderr: %s", scanner.Text())
		}
		// Wait がパイプを閉じた後の読み取りエラーはノイズなので除く
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.Logger.Printf("dumper stderr read aborted: %v", err)
		}
	}()

	// scanErr は lines のクローズ前に書かれるので、クローズ観測後の
	// 読み取りと競合しない。
	var scanErr error
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr = scanner.Err()
	}()

	parser := NewParser(r.OutputDir, r.Logger)
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	artifactSeen := false
	errorSeen := false

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if scanErr != nil {
					r.Logger.Printf("dumper stdout read aborted: %v", scanErr)
				}
				// 標準エラーはプロセスが生きている間は開いたままなので、
				// 終了を看取ってから合流する。
				exitErr, timedOut := r.awaitExit(ctx, cmd, timer.C, deadline)
				<-stderrDone
				if timedOut {
					events <- Event{Kind: EventTimeout}
					return
				}
				abnormal := exitErr != nil || scanErr != nil
				if abnormal && !errorSeen && !artifactSeen {
					r.Logger.Printf("dumper process exited abnormally: %v", exitErr)
					events <- Event{Kind: EventError, Text: "execution failed"}
				}
				return
			}
			ev, terminal := parser.Feed(line)
			if ev != nil {
				switch ev.Kind {
				case EventArtifact:
					artifactSeen = true
				case EventError:
					errorSeen = true
				}
				events <- *ev
			}
			if terminal {
				r.terminate(cmd, lines, stderrDone)
				return
			}

		case <-timer.C:
			r.Logger.Printf("dumper process deadline exceeded after %s (pid=%d)", deadline, cmd.Process.Pid)
			r.terminate(cmd, lines, stderrDone)
			events <- Event{Kind: EventTimeout}
			return

		case <-ctx.Done():
			r.terminate(cmd, lines, stderrDone)
			return
		}
	}
}

// awaitExit は標準出力のEOF後もデッドラインを生かしたままプロセスの
// 終了を待ちます。出力を閉じたまま走り続けるワーカーもここで
// 打ち切られます。タイムアウトで打ち切った場合は true を返します。
func (r *Runner) awaitExit(ctx context.Context, cmd *exec.Cmd, deadline <-chan time.Time, total time.Duration) (error, bool) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err, false

	case <-deadline:
		r.Logger.Printf("dumper process deadline exceeded after %s with stdout closed (pid=%d)", total, cmd.Process.Pid)
		r.kill(cmd, done)
		return nil, true

	case <-ctx.Done():
		r.kill(cmd, done)
		return nil, false
	}
}

// kill は SIGTERM → 猶予 → SIGKILL の順でプロセスを止め、回収まで待ちます。
func (r *Runner) kill(cmd *exec.Cmd, done <-chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		<-done
	}
}

// terminate はプロセスを穏便に止め、ダメなら強制終了します。
// パイプが閉じきるまで読み捨てたうえで Wait するので、呼び出し後に
// プロセスが残っていることはありません。
func (r *Runner) terminate(cmd *exec.Cmd, lines <-chan string, stderrDone <-chan struct{}) {
	_ = cmd.Process.Signal(syscall.SIGTERM)

	drained := make(chan struct{})
	go func() {
		for range lines {
		}
		<-stderrDone
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		<-drained
	}
	_ = cmd.Wait()
}
