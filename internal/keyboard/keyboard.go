// Package keyboard は分区選択キーボードをデータのみのレイアウトとして構築します。
// レイアウトは一覧ジョブの完了時に一度だけ構築され、以降はキャッシュから
// そのまま再生されます（送信処理とは分離されています）。
package keyboard

import (
	"fmt"
	"sort"
)

// ページ割りの定数。1ページ目はメタデータボタンの分だけ少なくしています。
const (
	perPageFirst = 12
	perPageOther = 14
)

// コールバックデータの固定値。
const (
	CallbackMetadata = "metadata"
	CallbackReturn   = "return"
	CallbackNoop     = " "
)

// 先頭に並べる優先分区。
var priorityPartitions = map[string]bool{
	"boot":          true,
	"init_boot":     true,
	"vbmeta":        true,
	"vbmeta_system": true,
}

// PartitionInfo は一覧ジョブが出力する分区情報の1件です。
type PartitionInfo struct {
	PartitionName string `json:"partition_name"`
	SizeReadable  string `json:"size_readable"`
}

// Button はラベルとコールバックデータのみを持つボタンです。
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Page は1ページ分のボタン行列です。
type Page struct {
	PageNumber int        `json:"page_number"`
	Rows       [][]Button `json:"rows"`
}

// Layout は全ページ分のキーボードレイアウトです。
type Layout struct {
	TotalPages int    `json:"total_pages"`
	Pages      []Page `json:"pages"`
}

// Page は1-basedのページ番号に対応するページを返します。
// 範囲外の場合は nil を返します。
func (l *Layout) Page(number int) *Page {
	if l == nil || number < 1 || number > l.TotalPages || number > len(l.Pages) {
		return nil
	}
	return &l.Pages[number-1]
}

// TotalPages は分区数から総ページ数を計算します。
func TotalPages(count int) int {
	if count <= perPageFirst {
		return 1
	}
	return (count-perPageFirst+perPageOther-1)/perPageOther + 1
}

// BuildLayout は分区一覧から全ページのレイアウトを構築します。
func BuildLayout(partitions []PartitionInfo) *Layout {
	sorted := make([]PartitionInfo, len(partitions))
	copy(sorted, partitions)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priorityPartitions[sorted[i].PartitionName], priorityPartitions[sorted[j].PartitionName]
		if pi != pj {
			return pi
		}
		return sorted[i].PartitionName < sorted[j].PartitionName
	})

	total := TotalPages(len(sorted))
	layout := &Layout{TotalPages: total, Pages: make([]Page, 0, total)}
	for page := 1; page <= total; page++ {
		layout.Pages = append(layout.Pages, buildPage(sorted, page, total))
	}
	return layout
}

func buildPage(partitions []PartitionInfo, page, totalPages int) Page {
	var start, perPage int
	if page == 1 {
		start = 0
		perPage = perPageFirst
	} else {
		start = perPageFirst + (page-2)*perPageOther
		perPage = perPageOther
	}
	end := start + perPage
	if end > len(partitions) {
		end = len(partitions)
	}

	var rows [][]Button
	if page == 1 {
		rows = append(rows, []Button{{Text: "🏷️Fetch metadata", CallbackData: CallbackMetadata}})
	}

	var row []Button
	for _, p := range partitions[start:end] {
		row = append(row, Button{
			Text:         fmt.Sprintf("%s(%s)", p.PartitionName, p.SizeReadable),
			CallbackData: p.PartitionName,
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	prev := Button{Text: "⏹️", CallbackData: CallbackNoop}
	if page > 1 {
		prev = Button{Text: "⬅️", CallbackData: fmt.Sprintf("page %d", page-1)}
	}
	next := Button{Text: "⏹️", CallbackData: CallbackNoop}
	if page < totalPages {
		next = Button{Text: "➡️", CallbackData: fmt.Sprintf("page %d", page+1)}
	}
	rows = append(rows, []Button{
		prev,
		{Text: fmt.Sprintf("📄%d/%d", page, totalPages), CallbackData: CallbackNoop},
		next,
	})

	return Page{PageNumber: page, Rows: rows}
}

// ReturnRows は「戻る」ボタンのみのレイアウト行を返します。
func ReturnRows() [][]Button {
	return [][]Button{{{Text: "Return", CallbackData: CallbackReturn}}}
}
