// Package extractor 从 IPA / APK 安装包中读取版本信息，纯函数，不访问外部资源
package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shogo82148/androidbinary"
	"howett.net/plist"
)

// Metadata 提取结果，字段为空表示安装包中没有该信息
type Metadata struct {
	Version      string
	BuildNumber  string
	MinOSVersion *string
	BundleID     *string
}

// Extractor 安装包元数据提取
type Extractor interface {
	Extract(data []byte, platform string) (Metadata, error)
}

const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

var ErrUnsupportedPlatform = errors.New("unsupported platform")

// maxEntrySize 单个清单文件的读取上限
const maxEntrySize = 8 << 20

// androidManifest 只声明需要的属性，属性值可能是资源引用，需要 resources.arsc 解析
type androidManifest struct {
	Package     androidbinary.String `xml:"package,attr"`
	VersionCode androidbinary.Int32  `xml:"http://schemas.android.com/apk/res/android versionCode,attr"`
	VersionName androidbinary.String `xml:"http://schemas.android.com/apk/res/android versionName,attr"`
	SDK         struct {
		Min androidbinary.Int32 `xml:"http://schemas.android.com/apk/res/android minSdkVersion,attr"`
	} `xml:"uses-sdk"`
}

// ArchiveExtractor 按 zip 结构读取 Info.plist 或 AndroidManifest.xml
type ArchiveExtractor struct{}

func NewArchiveExtractor() *ArchiveExtractor {
	return &ArchiveExtractor{}
}

func (e *ArchiveExtractor) Extract(data []byte, platform string) (Metadata, error) {
	switch platform {
	case PlatformIOS:
		return extractIPA(data)
	case PlatformAndroid:
		return extractAPK(data)
	default:
		return Metadata{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
}

func openZip(data []byte) (*zip.Reader, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("安装包不是合法的 zip 文件: %w", err)
	}
	return r, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%s 过大: %d", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntrySize))
}

// isAppInfoPlist 只匹配 Payload/<name>.app/Info.plist，忽略扩展与框架中的同名文件
func isAppInfoPlist(name string) bool {
	parts := strings.Split(name, "/")
	return len(parts) == 3 && parts[0] == "Payload" && strings.HasSuffix(parts[1], ".app") && parts[2] == "Info.plist"
}

func extractIPA(data []byte) (Metadata, error) {
	r, err := openZip(data)
	if err != nil {
		return Metadata{}, err
	}

	for _, f := range r.File {
		if !isAppInfoPlist(f.Name) {
			continue
		}
		raw, err := readEntry(f)
		if err != nil {
			return Metadata{}, err
		}
		return metadataFromPlist(raw)
	}
	return Metadata{}, nil
}

// metadataFromPlist XML 与二进制 plist 都支持，CFBundleVersion 有时是整数
func metadataFromPlist(raw []byte) (Metadata, error) {
	var info map[string]interface{}
	if _, err := plist.Unmarshal(raw, &info); err != nil {
		return Metadata{}, fmt.Errorf("Info.plist 解析失败: %w", err)
	}
	return Metadata{
		Version:      scalar(info["CFBundleShortVersionString"]),
		BuildNumber:  scalar(info["CFBundleVersion"]),
		MinOSVersion: optional(scalar(info["MinimumOSVersion"])),
		BundleID:     optional(scalar(info["CFBundleIdentifier"])),
	}, nil
}

func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case uint64:
		return strconv.FormatUint(t, 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func extractAPK(data []byte) (Metadata, error) {
	r, err := openZip(data)
	if err != nil {
		return Metadata{}, err
	}

	var manifestRaw []byte
	var table *androidbinary.TableFile
	for _, f := range r.File {
		switch f.Name {
		case "AndroidManifest.xml":
			if manifestRaw, err = readEntry(f); err != nil {
				return Metadata{}, err
			}
		case "resources.arsc":
			raw, err := readEntry(f)
			if err != nil {
				return Metadata{}, err
			}
			// 资源表损坏时只影响引用类型的属性
			if t, err := androidbinary.NewTableFile(bytes.NewReader(raw)); err == nil {
				table = t
			}
		}
	}
	if manifestRaw == nil {
		return Metadata{}, nil
	}

	m, err := parseAndroidManifest(manifestRaw, table)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Version:      resolveString(m.VersionName),
		BuildNumber:  resolveInt(m.VersionCode),
		MinOSVersion: optional(resolveInt(m.SDK.Min)),
		BundleID:     optional(resolveString(m.Package)),
	}, nil
}

func parseAndroidManifest(raw []byte, table *androidbinary.TableFile) (m androidManifest, err error) {
	// androidbinary 遇到截断的 chunk 可能 panic
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("AndroidManifest.xml 解析失败: %v", r)
		}
	}()

	xmlFile, err := androidbinary.NewXMLFile(bytes.NewReader(raw))
	if err != nil {
		return m, fmt.Errorf("AndroidManifest.xml 解析失败: %w", err)
	}
	if err := xmlFile.Decode(&m, table, nil); err != nil {
		return m, fmt.Errorf("AndroidManifest.xml 解析失败: %w", err)
	}
	return m, nil
}

// resolveString 资源引用在没有资源表时无法解析，按缺失处理
func resolveString(v androidbinary.String) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	s, err := v.String()
	if err != nil {
		return ""
	}
	return s
}

func resolveInt(v androidbinary.Int32) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	n, err := v.Int32()
	if err != nil {
		return ""
	}
	return strconv.FormatInt(int64(n), 10)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
