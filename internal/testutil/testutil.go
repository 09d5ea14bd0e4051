// Package testutil 提供各包测试共用的夹具：建好表的内存 sqlite 库、造数据与签发 token。
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"marketchat/internal/auth"
	"marketchat/internal/db"
	"marketchat/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const JWTSecret = "test-secret"

var seq atomic.Int64

// NewDB 打开一个独立的内存 sqlite 库并完成迁移。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err, "open sqlite")
	require.NoError(t, db.Migrate(gdb), "migrate")
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func CreateUser(t *testing.T, gdb *gorm.DB, nickname string) *models.User {
	t.Helper()
	n := seq.Add(1)
	u := models.User{
		Email:        fmt.Sprintf("user%d@example.com", n),
		Nickname:     fmt.Sprintf("%s-%d", nickname, n),
		PasswordHash: "x",
		Avatar:       fmt.Sprintf("https://img.example.com/avatar/%d.png", n),
	}
	require.NoError(t, gdb.Create(&u).Error)
	return &u
}

func CreateProduct(t *testing.T, gdb *gorm.DB, sellerID uint, title string) *models.Product {
	t.Helper()
	p := models.Product{
		SellerID: sellerID,
		Title:    title,
		Price:    10000,
		Images:   `["https://img.example.com/products/cover.jpg","https://img.example.com/products/2.jpg"]`,
	}
	require.NoError(t, gdb.Create(&p).Error)
	return &p
}

func CreateRoom(t *testing.T, gdb *gorm.DB, productID, buyerID uint) *models.ChatRoom {
	t.Helper()
	r := models.ChatRoom{ProductID: productID, BuyerID: buyerID}
	require.NoError(t, gdb.Create(&r).Error)
	return &r
}

func Token(t *testing.T, userID uint) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(userID, JWTSecret, time.Hour)
	require.NoError(t, err)
	return token
}
