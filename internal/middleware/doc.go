// Package middleware 提供了 HTTP 請求處理的中間件。
//
// 包含 request id、存取日誌與 CORS。
package middleware
