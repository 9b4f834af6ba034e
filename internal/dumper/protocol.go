// Package dumper は抽出ワーカープロセスの起動と、その標準出力の
// 行指向プロトコルの解読を提供します。
package dumper

import (
	"log"
	"path/filepath"
	"strings"
)

// ワーカーが標準出力に書き出すマーカー。プロトコルの互換性のため固定です。
const (
	markerStatusOpen  = "STATUS:"
	markerStatusClose = "STATUS_END"
	markerErrorOpen   = "ERROR:"
	markerErrorClose  = "ERROR_END"
	markerFile        = "FILE:"
)

// EventKind はワーカー出力から得られるイベントの種別です。
type EventKind int

const (
	// EventStatus は進捗テキストのブロックです。
	EventStatus EventKind = iota
	// EventError は致命的エラーのブロックです。受信した時点でジョブは終了します。
	EventError
	// EventArtifact は成果物ファイルの出力通知です。
	EventArtifact
	// EventTimeout はデッドライン超過によるジョブ打ち切りです。
	EventTimeout
)

// Event はワーカー出力から解読された1イベントです。
type Event struct {
	Kind EventKind
	Text string // Status / Error のメッセージ本文
	Path string // Artifact のファイルパス
	Name string // Artifact の表示名（拡張子処理済み）
}

type parserState int

const (
	stateIdle parserState = iota
	stateInStatus
	stateInError
)

// Parser はマーカー行を状態機械として解釈します。
// 状態は {Idle, InStatus, InError} のみで、ブロックの本文はクローズマーカー
// まで蓄積されます。解釈できない行はログに残すだけでイベントにはなりません。
type Parser struct {
	state         parserState
	buffer        []string
	partitionsDir string
	logger        *log.Logger
}

// NewParser は出力ディレクトリを基準にしたパーサーを作成します。
func NewParser(outputDir string, logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{
		partitionsDir: filepath.Join(outputDir, "partitions"),
		logger:        logger,
	}
}

// Feed は1行を解釈し、イベントが完成した場合はそれを返します。
// terminal はストリームをこれ以上読んではならないことを示します
// （ERROR_END 受信時のみ true）。
func (p *Parser) Feed(line string) (ev *Event, terminal bool) {
	line = strings.TrimSpace(line)

	switch p.state {
	case stateInStatus:
		if strings.HasPrefix(line, markerStatusClose) {
			ev = &Event{Kind: EventStatus, Text: strings.Join(p.buffer, "\n")}
			p.reset()
			return ev, false
		}
		p.buffer = append(p.buffer, line)
		return nil, false

	case stateInError:
		if strings.HasPrefix(line, markerErrorClose) {
			ev = &Event{Kind: EventError, Text: strings.Join(p.buffer, "\n")}
			p.reset()
			return ev, true
		}
		p.buffer = append(p.buffer, line)
		return nil, false
	}

	switch {
	case strings.HasPrefix(line, markerStatusOpen):
		p.state = stateInStatus
	case strings.HasPrefix(line, markerErrorOpen):
		p.state = stateInError
	case strings.HasPrefix(line, markerFile):
		path := strings.TrimSpace(strings.TrimPrefix(line, markerFile))
		return &Event{Kind: EventArtifact, Path: path, Name: p.artifactName(path)}, false
	case line != "":
		// セマンティクスを持たない診断行
		p.logger.Printf("dumper output: %s", line)
	}
	return nil, false
}

// artifactName は成果物パスから表示名を導出します。
// 分区一覧ディレクトリ配下のファイルは拡張子を除いた名前になります。
func (p *Parser) artifactName(path string) string {
	base := filepath.Base(path)
	if strings.HasPrefix(path, p.partitionsDir+string(filepath.Separator)) {
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return base
}

func (p *Parser) reset() {
	p.state = stateIdle
	p.buffer = nil
}
