package main

import (
	"github.com/blang/semver/v4"
)

// Version 在构建时通过 -ldflags "-X main.Version=..." 注入。
var Version = "0.1.0"

// buildVersion 解析 Version，格式非法时返回 0.0.0。
func buildVersion() semver.Version {
	v, err := semver.ParseTolerant(Version)
	if err != nil {
		return semver.Version{}
	}
	return v
}
