package fieldmap

// aliasGroups lists labels that refer to the same logical answer across the
// English and Japanese template families in circulation. Members are compared
// in canonical form, so width, case, and kana variants are covered implicitly
// (フリガナ matches ふりがな without its own entry).
var aliasGroups = [][]string{
	{"name", "fullname", "applicantname", "氏名", "名前", "お名前", "おなまえ", "申請者名"},
	{"furigana", "kana", "ふりがな", "よみがな"},
	{"dob", "dateofbirth", "birthdate", "birthday", "生年月日", "誕生日"},
	{"address", "住所", "ご住所", "所在地", "現住所"},
	{"phone", "tel", "telephone", "phonenumber", "電話番号", "連絡先電話番号"},
	{"email", "mail", "emailaddress", "メールアドレス", "電子メール"},
	{"zip", "zipcode", "postalcode", "郵便番号"},
	{"date", "日付", "年月日", "記入日", "申請日"},
	{"sex", "gender", "性別"},
	{"age", "年齢"},
	{"company", "companyname", "会社名", "勤務先", "法人名", "事業者名"},
	{"department", "部署", "所属", "部署名"},
	{"jobtitle", "position", "役職", "肩書"},
	{"occupation", "職業"},
	{"nationality", "国籍"},
	{"signature", "sign", "署名", "サイン"},
	{"seal", "印", "押印", "印鑑"},
	{"remarks", "note", "notes", "comment", "備考", "コメント", "特記事項"},
	{"amount", "price", "金額", "料金"},
	{"reason", "理由", "申請理由"},
	{"period", "期間", "利用期間"},
	{"prefecture", "都道府県"},
	{"city", "市区町村"},
}

// aliasIndex maps a canonical alias to its group id.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]int {
	index := make(map[string]int)
	for id, group := range aliasGroups {
		for _, label := range group {
			index[Canonical(label)] = id
		}
	}
	return index
}

// aliasGroupFor returns the alias group id for a canonical or stemmed name.
func aliasGroupFor(canonical, stemmed string) (int, bool) {
	if id, ok := aliasIndex[canonical]; ok {
		return id, true
	}
	if id, ok := aliasIndex[stemmed]; ok {
		return id, true
	}
	return 0, false
}
