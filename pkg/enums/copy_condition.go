package enums

import "fmt"

type CopyCondition string

const (
	CopyConditionExcellent CopyCondition = "excellent"
	CopyConditionGood      CopyCondition = "good"
	CopyConditionFair      CopyCondition = "fair"
	CopyConditionPoor      CopyCondition = "poor"
	CopyConditionDamaged   CopyCondition = "damaged"
)

var validCopyConditions = []CopyCondition{
	CopyConditionExcellent,
	CopyConditionGood,
	CopyConditionFair,
	CopyConditionPoor,
	CopyConditionDamaged,
}

func (c CopyCondition) String() string {
	return string(c)
}

func (c CopyCondition) IsValid() bool {
	for _, candidate := range validCopyConditions {
		if candidate == c {
			return true
		}
	}
	return false
}

func ParseCopyCondition(value string) (CopyCondition, error) {
	for _, candidate := range validCopyConditions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid copy condition %q", value)
}
