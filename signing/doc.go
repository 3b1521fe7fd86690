// Package signing implements gateway request signing and response verification.
//
// Outbound requests are signed over
//
//	METHOD\nURL\nTIMESTAMP\nNONCE\nBODY\n
//
// with SHA256-with-RSA using the merchant key, and carry
//
//	Authorization: WECHATPAY2-SHA256-RSA2048 mchid="...",nonce_str="...",signature="...",timestamp="...",serial_no="..."
//
// Successful responses are verified over
//
//	TIMESTAMP\nNONCE\nBODY\n
//
// using the Wechatpay-Timestamp, Wechatpay-Nonce, Wechatpay-Signature and
// Wechatpay-Serial headers and the platform certificate named by the serial.
// A response that fails verification is discarded and reported as
// interfaces.ErrSignatureVerificationFailed.
package signing
