package database

// Table 文档模型声明自己所在的集合
type Table interface {
	TableName() string
}

// CollectionName 取模型的集合名
func CollectionName(t Table) string {
	return t.TableName()
}
