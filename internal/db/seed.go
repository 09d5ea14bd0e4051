package db

import (
	"marketchat/internal/auth"
	"marketchat/internal/models"

	"gorm.io/gorm"
)

const SeedPassword = "password123"

type seedProduct struct {
	sellerEmail string
	product     models.Product
}

var seedUsers = []models.User{
	{Email: "test1@karrot.com", Nickname: "당근이", Location: "서울 마포구"},
	{Email: "test2@karrot.com", Nickname: "토끼", Location: "서울 강남구"},
}

var seedProducts = []seedProduct{
	{"test1@karrot.com", models.Product{Title: "아이폰 14 Pro 판매", Description: "6개월 사용, 상태 최상. 케이스 포함.", Price: 950000, Category: "전자기기", Location: "서울 마포구"}},
	{"test1@karrot.com", models.Product{Title: "나이키 에어맥스 270", Description: "270mm, 3번 착용. 박스 있음.", Price: 65000, Category: "의류/잡화", Location: "서울 마포구"}},
	{"test2@karrot.com", models.Product{Title: "책상 + 의자 세트", Description: "이사로 인한 급처. 직거래만.", Price: 120000, Category: "가구/인테리어", Location: "서울 강남구"}},
}

// Seed 写入演示用户与商品；按 email 与 (卖家, 标题) 去重，可重复执行。
func Seed(gdb *gorm.DB) ([]models.User, error) {
	hash, err := auth.HashPassword(SeedPassword)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(seedUsers))
	byEmail := make(map[string]uint, len(seedUsers))
	err = gdb.Transaction(func(tx *gorm.DB) error {
		for _, u := range seedUsers {
			u.PasswordHash = hash
			var got models.User
			if err := tx.Where(models.User{Email: u.Email}).Attrs(u).FirstOrCreate(&got).Error; err != nil {
				return err
			}
			users = append(users, got)
			byEmail[got.Email] = got.ID
		}
		for _, sp := range seedProducts {
			p := sp.product
			p.SellerID = byEmail[sp.sellerEmail]
			p.Images = "[]"
			var got models.Product
			if err := tx.Where(models.Product{SellerID: p.SellerID, Title: p.Title}).Attrs(p).FirstOrCreate(&got).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}
