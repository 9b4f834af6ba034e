// Package romurl はROMリンクの検証と、キャッシュキーとなるファイル名の導出を提供します。
package romurl

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const cdnBaseURL = "https://bkt-sgp-miui-ota-update-alisgp.oss-ap-southeast-1.aliyuncs.com/"

var (
	miuiURLPattern = regexp.MustCompile(`^https://(?:bn|bigota|cdnorg|hugeota)\.d\.miui\.com/(.*)$`)
	zipNamePattern = regexp.MustCompile(`([^/]*)\.zip(\?.*)?$`)
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	partitionName  = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// BlacklistedPartitions はサーバー制約により抽出できない分区の一覧です。
var BlacklistedPartitions = []string{
	"modem", "modemfirmware", "odm", "product", "system", "system_ext", "vendor",
}

// IsValid はURLがスキームとホストを持つHTTP(S)リンクかどうかを判定します。
func IsValid(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// RewriteCDN は小米公式の制限付きリンクを高速CDNリンクに置き換えます。
// 置き換えが行われた場合は true を返します。
func RewriteCDN(raw string) (string, bool) {
	m := miuiURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return raw, false
	}
	return cdnBaseURL + m[1], true
}

// IsValidPartition は分区名の形式を検証します。
func IsValidPartition(name string) bool {
	return partitionName.MatchString(name)
}

// IsBlacklistedPartition は抽出不可の分区かどうかを判定します。
func IsBlacklistedPartition(name string) bool {
	for _, p := range BlacklistedPartitions {
		if p == name {
			return true
		}
	}
	return false
}

// DeriveKey はURLから安定したキャッシュキーを導出します。
// Content-Dispositionの取得に失敗してもURLだけでキーが決まるようにフォールバックします。
func DeriveKey(raw string) string {
	return normalizeName(nameFromURL(raw), raw)
}

// ProbeKey はHEADリクエストでContent-Dispositionのファイル名を取得し、
// 得られない場合はURLからの導出にフォールバックします。
func ProbeKey(ctx context.Context, client *http.Client, raw string) string {
	if client == nil {
		return DeriveKey(raw)
	}
	name := probeFilename(ctx, client, raw)
	if name == "" {
		name = nameFromURL(raw)
	}
	return normalizeName(name, raw)
}

func probeFilename(ctx context.Context, client *http.Client, raw string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, raw, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
	default:
		return ""
	}

	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func nameFromURL(raw string) string {
	if m := zipNamePattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

func normalizeName(name, raw string) string {
	name = forbiddenChars.ReplaceAllString(strings.TrimSpace(name), "")
	if name == "." || name == "" {
		return urlHash(raw)
	}
	// 短い名前は衝突しやすいのでURLハッシュを付与する
	if len(name) > 20 {
		return name
	}
	return fmt.Sprintf("%s_%s", name, urlHash(raw))
}

func urlHash(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:8]
}
