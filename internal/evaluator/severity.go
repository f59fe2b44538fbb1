package evaluator

import (
	"sort"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
)

// Classify 将 PM2.5 浓度映射到严重等级（全函数，不会失败）
// 负值归入 GOOD，超出所有有限上界（以及 NaN）归入 HAZARDOUS
func Classify(pm25 float64) models.SeverityLevel {
	i := sort.Search(models.LevelCount, func(i int) bool {
		return pm25 < models.Bands[i].Max
	})
	if i >= models.LevelCount {
		return models.LevelHazardous
	}
	return models.Bands[i].Level
}
