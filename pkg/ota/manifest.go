package ota

import "howett.net/plist"

// ManifestInfo 安装清单内容
type ManifestInfo struct {
	// PackageURL 安装包下载地址
	PackageURL    string
	BundleID      string
	BundleVersion string
	Title         string
}

type manifestDoc struct {
	Items []manifestItem `plist:"items"`
}

type manifestItem struct {
	Assets   []manifestAsset  `plist:"assets"`
	Metadata manifestMetadata `plist:"metadata"`
}

type manifestAsset struct {
	Kind string `plist:"kind"`
	URL  string `plist:"url"`
}

type manifestMetadata struct {
	BundleIdentifier string `plist:"bundle-identifier"`
	BundleVersion    string `plist:"bundle-version"`
	Kind             string `plist:"kind"`
	Title            string `plist:"title"`
}

// RenderManifest 生成 itms-services 使用的 XML plist 清单，字典按 key 排序，相同输入输出相同
func RenderManifest(info ManifestInfo) ([]byte, error) {
	doc := manifestDoc{Items: []manifestItem{{
		Assets: []manifestAsset{{Kind: "software-package", URL: info.PackageURL}},
		Metadata: manifestMetadata{
			BundleIdentifier: info.BundleID,
			BundleVersion:    info.BundleVersion,
			Kind:             "software",
			Title:            info.Title,
		},
	}}}
	return plist.MarshalIndent(doc, plist.XMLFormat, "\t")
}
