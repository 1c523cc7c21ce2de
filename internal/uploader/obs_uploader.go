// internal/uploader/obs_uploader.go
package uploader

import (
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Slade66/resumable-fetcher/internal/config"
	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
)

// Uploader 把本地文件上传到对象存储
type Uploader interface {
	UploadFile(objectKey, filePath string) error
}

// ObsUploader 把下载完成的文件上传到华为云 OBS 的一个桶
type ObsUploader struct {
	client *obs.ObsClient
	bucket string
}

// NewObsUploader 使用配置中的凭证创建上传器
func NewObsUploader(cfg config.OBSConfig) (*ObsUploader, error) {
	if !cfg.Enabled() {
		return nil, errors.New("OBS 配置不完整: 需要 endpoint 和 bucket")
	}
	client, err := obs.New(cfg.AK, cfg.SK, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("无法创建 OBS 客户端: %w", err)
	}
	return &ObsUploader{client: client, bucket: cfg.Bucket}, nil
}

// UploadFile 上传本地文件；桶中已有同名且大小一致的对象时跳过
func (u *ObsUploader) UploadFile(objectKey, filePath string) error {
	fi, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("读取待上传文件失败: %w", err)
	}
	if size, ok := u.remoteSize(objectKey); ok && size == fi.Size() {
		log.Printf("⏭️ OBS 对象 '%s' 已存在且大小一致，跳过上传", objectKey)
		return nil
	}

	input := &obs.PutFileInput{}
	input.Bucket = u.bucket
	input.Key = objectKey
	input.SourceFile = filePath
	input.ContentType = mime.TypeByExtension(filepath.Ext(filePath))

	output, err := u.client.PutFile(input)
	if err != nil {
		var obsErr obs.ObsError
		if errors.As(err, &obsErr) {
			return fmt.Errorf("上传失败，OBS错误码: %s, 错误信息: %s", obsErr.Code, obsErr.Message)
		}
		return fmt.Errorf("上传文件到 OBS 失败: %w", err)
	}

	log.Printf("✅ 文件 '%s' 已上传到 OBS 桶 '%s'，对象键为 '%s' (ETag: %s)", filePath, u.bucket, objectKey, output.ETag)
	return nil
}

// remoteSize 查询对象大小，对象不存在或查询失败时 ok 为 false
func (u *ObsUploader) remoteSize(objectKey string) (int64, bool) {
	input := &obs.GetObjectMetadataInput{Bucket: u.bucket, Key: objectKey}
	output, err := u.client.GetObjectMetadata(input)
	if err != nil {
		var obsErr obs.ObsError
		if !errors.As(err, &obsErr) || obsErr.StatusCode != http.StatusNotFound {
			log.Printf("⚠️ 查询 OBS 对象 '%s' 失败: %v", objectKey, err)
		}
		return 0, false
	}
	return output.ContentLength, true
}

// Close 关闭客户端连接
func (u *ObsUploader) Close() {
	if u.client != nil {
		u.client.Close()
	}
}
