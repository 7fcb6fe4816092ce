package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

// s3Code 取出 MinIO/S3 错误码（小写），非 S3 错误返回空串。
func s3Code(err error) string {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return strings.ToLower(strings.TrimSpace(resp.Code))
	}
	return ""
}

func messageContains(err error, fragments ...string) bool {
	lower := strings.ToLower(err.Error())
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// IsNoSuchKey 报告对象是否不存在。打印文件下载与照片查找都据此返回 404 或改走下一级查找。
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	switch s3Code(err) {
	case "nosuchkey", "notfound":
		return true
	case "":
		// 经过代理的错误可能只剩字符串。
		return messageContains(err, "nosuchkey", "specified key does not exist", "not found")
	}
	return false
}

// IsNoSuchBucket 报告 Bucket 是否不存在。这属于部署错误，素材查找遇到它直接失败而不是隐藏元素。
func IsNoSuchBucket(err error) bool {
	if err == nil {
		return false
	}
	if s3Code(err) == "nosuchbucket" {
		return true
	}
	return messageContains(err, "nosuchbucket", "specified bucket does not exist")
}
