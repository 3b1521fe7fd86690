// Package common holds process-wide helpers shared by the commands.
package common

// Version is set at build time with -ldflags "-X github.com/ruteri/wechatpay-backend/common.Version=...".
var Version = "dev"
